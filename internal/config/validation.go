package config

import (
	"fmt"
	"strings"
)

// ValidationError names the offending field so startup failures are
// actionable without reading source.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Pacing.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.TrimSpace(e.APIKey) == "" {
		return invalid("exchange.api_key", "cannot be empty")
	}
	if strings.TrimSpace(e.APISecret) == "" {
		return invalid("exchange.api_secret", "cannot be empty")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.EnabledSymbols()) == 0 {
		return invalid("trading.pairs", "requires at least one enabled pair")
	}
	seen := make(map[string]bool)
	for _, sym := range t.EnabledSymbols() {
		if seen[sym] {
			return invalid("trading.pairs", "duplicate symbol %s", sym)
		}
		seen[sym] = true
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MinFraction > r.MaxFraction {
		return invalid("risk.min_fraction", "%.3f exceeds max_fraction %.3f", r.MinFraction, r.MaxFraction)
	}
	if r.MaxFraction > 1 {
		return invalid("risk.max_fraction", "%.3f exceeds 1", r.MaxFraction)
	}
	if r.Conservatism > 1 {
		return invalid("risk.conservatism", "%.3f exceeds 1", r.Conservatism)
	}
	if r.MaxPositionPct > 1 {
		return invalid("risk.max_position_pct", "%.3f exceeds 1", r.MaxPositionPct)
	}
	if r.MinConfidence > 1 {
		return invalid("risk.min_confidence", "%.3f exceeds 1", r.MinConfidence)
	}
	return nil
}

func (p *PacingConfig) validate() error {
	if p.MaxDelay < p.MinDelay {
		return invalid("pacing.max_delay", "%s below min_delay %s", p.MaxDelay, p.MinDelay)
	}
	if p.NightStartHour < 0 || p.NightStartHour > 23 {
		return invalid("pacing.night_start_hour", "%d outside [0,23]", p.NightStartHour)
	}
	if p.NightEndHour < 0 || p.NightEndHour > 24 {
		return invalid("pacing.night_end_hour", "%d outside [0,24]", p.NightEndHour)
	}
	for _, prob := range []struct {
		name  string
		value float64
	}{
		{"pacing.micro_break_prob", p.MicroBreakProb},
		{"pacing.session_break_prob", p.SessionBreakProb},
		{"pacing.hesitation_prob", p.HesitationProb},
	} {
		if prob.value < 0 || prob.value > 1 {
			return invalid(prob.name, "%.3f outside [0,1]", prob.value)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" {
		return invalid("notify.telegram.bot_token", "required when telegram is enabled")
	}
	if strings.TrimSpace(n.Telegram.ChatID) == "" {
		return invalid("notify.telegram.chat_id", "required when telegram is enabled")
	}
	return nil
}
