package config

import (
	"strings"
	"time"
)

// Config is the full configuration surface.
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Exits    ExitsConfig    `toml:"exits"`
	Pacing   PacingConfig   `toml:"pacing"`
	Notify   NotifyConfig   `toml:"notify"`
	Store    StoreConfig    `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type ExchangeConfig struct {
	Name      string `toml:"name"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
}

// PairConfig enables one symbol, optionally overriding the default
// strategy.
type PairConfig struct {
	Symbol   string `toml:"symbol"`
	Strategy string `toml:"strategy"`
	Enabled  *bool  `toml:"enabled"` // nil means enabled
}

func (p PairConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type TradingConfig struct {
	Pairs                  []PairConfig  `toml:"pairs"`
	CycleInterval          time.Duration `toml:"cycle_interval"`
	Concurrency            int           `toml:"concurrency"`
	StrategyID             string        `toml:"strategy"`
	GraceTimeout           time.Duration `toml:"grace_timeout"`
	ConnectAttempts        int           `toml:"connect_attempts"`
	MaxConsecutiveFailures int           `toml:"max_consecutive_failures"`
	OrderRetries           int           `toml:"order_retries"`
	CloseTimeout           time.Duration `toml:"close_timeout"`
}

// EnabledSymbols returns the active pair symbols, upper-cased and trimmed.
func (t TradingConfig) EnabledSymbols() []string {
	out := make([]string, 0, len(t.Pairs))
	for _, p := range t.Pairs {
		sym := strings.ToUpper(strings.TrimSpace(p.Symbol))
		if sym == "" || !p.IsEnabled() {
			continue
		}
		out = append(out, sym)
	}
	return out
}

type RiskConfig struct {
	MinFraction          float64 `toml:"min_fraction"`
	MaxFraction          float64 `toml:"max_fraction"`
	Conservatism         float64 `toml:"conservatism"`
	MaxPositionPct       float64 `toml:"max_position_pct"`
	MaxOpenPositions     int     `toml:"max_open_positions"`
	MaxDailyLossPct      float64 `toml:"max_daily_loss_pct"`
	MaxDrawdownPct       float64 `toml:"max_drawdown_pct"`
	MinConfidence        float64 `toml:"min_confidence"`
	CorrelationThreshold float64 `toml:"correlation_threshold"`
	VolatilityCeiling    float64 `toml:"volatility_ceiling"`
}

type ExitsConfig struct {
	MinRewardRisk float64 `toml:"min_reward_risk"`
	VolWidening   float64 `toml:"vol_widening"`
	TrendWidening float64 `toml:"trend_widening"`
	SnapMarginPct float64 `toml:"snap_margin_pct"`
	FavorableMult float64 `toml:"favorable_mult"`
	AdverseMult   float64 `toml:"adverse_mult"`
}

type PacingConfig struct {
	Enabled          bool          `toml:"enabled"`
	Seed             int64         `toml:"seed"` // 0 means time-derived
	MinDelay         time.Duration `toml:"min_delay"`
	MaxDelay         time.Duration `toml:"max_delay"`
	NightStartHour   int           `toml:"night_start_hour"`
	NightEndHour     int           `toml:"night_end_hour"`
	NightMult        float64       `toml:"night_mult"`
	MicroBreakProb   float64       `toml:"micro_break_prob"`
	SessionBreakProb float64       `toml:"session_break_prob"`
	HesitationProb   float64       `toml:"hesitation_prob"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}
