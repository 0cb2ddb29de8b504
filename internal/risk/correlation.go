package risk

import "strings"

var majorBases = map[string]bool{
	"BTC": true,
	"ETH": true,
}

var quoteAssets = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

// EstimateCorrelation gives a coarse correlation estimate between two
// symbols based on their base/quote composition. Crypto pairs sharing a
// quote move together far more than equities would, hence the high floor.
func EstimateCorrelation(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		return 1.0
	}
	baseA, quoteA := splitSymbol(a)
	baseB, quoteB := splitSymbol(b)
	if baseA != "" && baseA == baseB {
		return 0.95
	}
	if majorBases[baseA] && majorBases[baseB] {
		return 0.85
	}
	if quoteA != "" && quoteA == quoteB {
		return 0.6
	}
	return 0.4
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func splitSymbol(symbol string) (base, quote string) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, ""
}
