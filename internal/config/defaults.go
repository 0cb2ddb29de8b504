package config

import "time"

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultExchangeName     = "binance"
	defaultCycleInterval    = 3 * time.Minute
	defaultConcurrency      = 4
	defaultStrategyID       = "default"
	defaultGraceTimeout     = 30 * time.Second
	defaultConnectAttempts  = 3
	defaultMaxFailures      = 3
	defaultOrderRetries     = 3
	defaultCloseTimeout     = 20 * time.Second
	defaultMinFraction      = 0.01
	defaultMaxFraction      = 0.25
	defaultConservatism     = 0.25
	defaultMaxPositionPct   = 0.10
	defaultMaxOpenPositions = 3
	defaultMaxDailyLossPct  = 0.05
	defaultMaxDrawdownPct   = 0.20
	defaultMinConfidence    = 0.60
	defaultCorrelation      = 0.80
	defaultVolCeiling       = 0.08
	defaultMinRewardRisk    = 1.5
	defaultVolWidening      = 0.5
	defaultTrendWidening    = 0.3
	defaultSnapMarginPct    = 0.002
	defaultFavorableMult    = 2.0
	defaultAdverseMult      = 1.0
	defaultPacingMinDelay   = 800 * time.Millisecond
	defaultPacingMaxDelay   = 4 * time.Second
	defaultNightMult        = 1.8
	defaultMicroBreakProb   = 0.04
	defaultSessionBreakProb = 0.005
	defaultHesitationProb   = 0.01
	defaultStorePath        = "data/slowhand.db"
)

// applyDefaults fills optional knobs left at their zero value. Required
// fields stay empty so validate can reject them explicitly.
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = defaultExchangeName
	}

	t := &c.Trading
	if t.CycleInterval <= 0 {
		t.CycleInterval = defaultCycleInterval
	}
	if t.Concurrency <= 0 {
		t.Concurrency = defaultConcurrency
	}
	if t.StrategyID == "" {
		t.StrategyID = defaultStrategyID
	}
	if t.GraceTimeout <= 0 {
		t.GraceTimeout = defaultGraceTimeout
	}
	if t.ConnectAttempts <= 0 {
		t.ConnectAttempts = defaultConnectAttempts
	}
	if t.MaxConsecutiveFailures <= 0 {
		t.MaxConsecutiveFailures = defaultMaxFailures
	}
	if t.OrderRetries <= 0 {
		t.OrderRetries = defaultOrderRetries
	}
	if t.CloseTimeout <= 0 {
		t.CloseTimeout = defaultCloseTimeout
	}

	r := &c.Risk
	if r.MinFraction <= 0 {
		r.MinFraction = defaultMinFraction
	}
	if r.MaxFraction <= 0 {
		r.MaxFraction = defaultMaxFraction
	}
	if r.Conservatism <= 0 {
		r.Conservatism = defaultConservatism
	}
	if r.MaxPositionPct <= 0 {
		r.MaxPositionPct = defaultMaxPositionPct
	}
	if r.MaxOpenPositions <= 0 {
		r.MaxOpenPositions = defaultMaxOpenPositions
	}
	if r.MaxDailyLossPct <= 0 {
		r.MaxDailyLossPct = defaultMaxDailyLossPct
	}
	if r.MaxDrawdownPct <= 0 {
		r.MaxDrawdownPct = defaultMaxDrawdownPct
	}
	if r.MinConfidence <= 0 {
		r.MinConfidence = defaultMinConfidence
	}
	if r.CorrelationThreshold <= 0 {
		r.CorrelationThreshold = defaultCorrelation
	}
	if r.VolatilityCeiling <= 0 {
		r.VolatilityCeiling = defaultVolCeiling
	}

	e := &c.Exits
	if e.MinRewardRisk <= 0 {
		e.MinRewardRisk = defaultMinRewardRisk
	}
	if e.VolWidening <= 0 {
		e.VolWidening = defaultVolWidening
	}
	if e.TrendWidening <= 0 {
		e.TrendWidening = defaultTrendWidening
	}
	if e.SnapMarginPct <= 0 {
		e.SnapMarginPct = defaultSnapMarginPct
	}
	if e.FavorableMult <= 0 {
		e.FavorableMult = defaultFavorableMult
	}
	if e.AdverseMult <= 0 {
		e.AdverseMult = defaultAdverseMult
	}

	p := &c.Pacing
	if p.MinDelay <= 0 {
		p.MinDelay = defaultPacingMinDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultPacingMaxDelay
	}
	if p.NightMult <= 0 {
		p.NightMult = defaultNightMult
	}
	if p.NightStartHour == 0 && p.NightEndHour == 0 {
		p.NightEndHour = 6
	}
	if p.MicroBreakProb <= 0 {
		p.MicroBreakProb = defaultMicroBreakProb
	}
	if p.SessionBreakProb <= 0 {
		p.SessionBreakProb = defaultSessionBreakProb
	}
	if p.HesitationProb <= 0 {
		p.HesitationProb = defaultHesitationProb
	}

	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
}
