package pacing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"slowhand/internal/logger"
)

// Class partitions externally observable actions: placing an order pauses
// longer than cancelling one, which pauses longer than a status check.
type Class int

const (
	ActionCycle Class = iota
	ActionPlaceOrder
	ActionCancelOrder
	ActionStatusCheck
)

func (c Class) String() string {
	switch c {
	case ActionCycle:
		return "cycle"
	case ActionPlaceOrder:
		return "place_order"
	case ActionCancelOrder:
		return "cancel_order"
	case ActionStatusCheck:
		return "status_check"
	default:
		return "unknown"
	}
}

// Config is the pacing surface. All probabilities are in [0,1].
type Config struct {
	Enabled bool

	MinDelay time.Duration
	MaxDelay time.Duration

	CycleMult  float64
	PlaceMult  float64
	CancelMult float64
	StatusMult float64

	NightStartHour int // local hour, inclusive
	NightEndHour   int // local hour, exclusive
	NightMult      float64

	FatigueGrowth float64 // extra multiplier accumulated per 100 session actions
	FatigueCap    float64

	MicroBreakProb   float64
	MicroBreakMin    time.Duration
	MicroBreakMax    time.Duration
	SessionBreakProb float64
	SessionBreakMin  time.Duration
	SessionBreakMax  time.Duration

	HesitationProb float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MinDelay:         800 * time.Millisecond,
		MaxDelay:         4 * time.Second,
		CycleMult:        1.0,
		PlaceMult:        2.5,
		CancelMult:       1.5,
		StatusMult:       0.6,
		NightStartHour:   0,
		NightEndHour:     6,
		NightMult:        1.8,
		FatigueGrowth:    0.5,
		FatigueCap:       2.0,
		MicroBreakProb:   0.04,
		MicroBreakMin:    5 * time.Second,
		MicroBreakMax:    20 * time.Second,
		SessionBreakProb: 0.005,
		SessionBreakMin:  10 * time.Minute,
		SessionBreakMax:  45 * time.Minute,
		HesitationProb:   0.01,
	}
}

// Policy is injected into the run loop and the position manager. The
// humanised implementation paces and rounds; tests swap in Noop.
type Policy interface {
	// Pause blocks for the policy's delay before the given action class.
	// It returns early with ctx.Err() when the context is cancelled.
	Pause(ctx context.Context, action Class) error
	HumanizeQuantity(qty float64) float64
	HumanizePrice(price float64) float64
	// Hesitate reports whether an about-to-be-submitted action should be
	// abandoned instead.
	Hesitate() bool
}

// Noop pauses never and rounds nothing.
type Noop struct{}

func (Noop) Pause(ctx context.Context, _ Class) error { return ctx.Err() }
func (Noop) HumanizeQuantity(qty float64) float64     { return qty }
func (Noop) HumanizePrice(price float64) float64      { return price }
func (Noop) Hesitate() bool                           { return false }

// Profile holds the per-session counters behind the fatigue multiplier.
// A session break resets it.
type Profile struct {
	Actions      int
	SessionStart time.Time
}

// Human implements Policy with randomised, humanised timing. All
// randomness flows from the injected seed, so a fixed seed replays the
// exact same behaviour.
type Human struct {
	cfg Config

	mu      sync.Mutex
	rng     *rand.Rand
	profile Profile

	nowFn func() time.Time
	chunk time.Duration
}

func NewHuman(cfg Config, seed int64) *Human {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Human{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		nowFn: time.Now,
		chunk: time.Second,
		profile: Profile{
			SessionStart: time.Now(),
		},
	}
}

var _ Policy = (*Human)(nil)

func (h *Human) Pause(ctx context.Context, action Class) error {
	if !h.cfg.Enabled {
		return ctx.Err()
	}
	h.mu.Lock()
	delay, isBreak := h.nextDelayLocked(action, h.nowFn())
	h.mu.Unlock()
	if isBreak {
		logger.Infof("pacing: taking a break for %s before %s", delay.Truncate(time.Second), action)
	} else {
		logger.Debugf("pacing: pausing %s before %s", delay.Truncate(time.Millisecond), action)
	}
	return sleepChunked(ctx, delay, h.chunk)
}

func (h *Human) Hesitate() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg.Enabled && h.cfg.HesitationProb > 0 && h.rng.Float64() < h.cfg.HesitationProb
}

// nextDelayLocked computes one delay and advances the session counters.
// Callers hold h.mu.
func (h *Human) nextDelayLocked(action Class, now time.Time) (time.Duration, bool) {
	// Session break: long pause, fatigue counter starts over.
	if h.cfg.SessionBreakProb > 0 && h.rng.Float64() < h.cfg.SessionBreakProb {
		d := h.uniform(h.cfg.SessionBreakMin, h.cfg.SessionBreakMax)
		h.profile = Profile{SessionStart: now.Add(d)}
		return d, true
	}
	if h.cfg.MicroBreakProb > 0 && h.rng.Float64() < h.cfg.MicroBreakProb {
		h.profile.Actions++
		return h.uniform(h.cfg.MicroBreakMin, h.cfg.MicroBreakMax), true
	}

	base := h.uniform(h.cfg.MinDelay, h.cfg.MaxDelay)
	mult := h.classMult(action)
	if h.isNight(now) {
		mult *= h.cfg.NightMult
	}
	mult *= h.fatigue()

	h.profile.Actions++
	return time.Duration(float64(base) * mult), false
}

func (h *Human) classMult(action Class) float64 {
	var m float64
	switch action {
	case ActionPlaceOrder:
		m = h.cfg.PlaceMult
	case ActionCancelOrder:
		m = h.cfg.CancelMult
	case ActionStatusCheck:
		m = h.cfg.StatusMult
	default:
		m = h.cfg.CycleMult
	}
	if m <= 0 {
		m = 1
	}
	return m
}

func (h *Human) isNight(now time.Time) bool {
	if h.cfg.NightMult <= 0 || h.cfg.NightStartHour == h.cfg.NightEndHour {
		return false
	}
	hour := now.Hour()
	start, end := h.cfg.NightStartHour, h.cfg.NightEndHour
	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. 22..6.
	return hour >= start || hour < end
}

func (h *Human) fatigue() float64 {
	if h.cfg.FatigueGrowth <= 0 {
		return 1
	}
	f := 1 + h.cfg.FatigueGrowth*float64(h.profile.Actions)/100
	if h.cfg.FatigueCap > 0 && f > h.cfg.FatigueCap {
		f = h.cfg.FatigueCap
	}
	return f
}

func (h *Human) uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(h.rng.Int63n(int64(max-min)))
}

// sleepChunked sleeps in short increments so a pending cancellation is
// honoured within one chunk even for very long break delays.
func sleepChunked(ctx context.Context, total, chunk time.Duration) error {
	if chunk <= 0 {
		chunk = time.Second
	}
	remaining := total
	for remaining > 0 {
		step := chunk
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		remaining -= step
	}
	return ctx.Err()
}
