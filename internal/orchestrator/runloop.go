package orchestrator

import (
	"context"
	"fmt"
	"time"

	"slowhand/internal/gateway/notifier"
	"slowhand/internal/logger"
	"slowhand/internal/pacing"
)

// run drives cycles until ctx is cancelled or consecutive failures exhaust
// the breaker. One bad iteration is logged and absorbed; repeated ones
// escalate to Error because a loop that keeps failing is worse than a
// stopped one.
func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		err := o.iterate(ctx)
		switch {
		case err == nil:
			o.breaker.RecordSuccess()
		case ctx.Err() != nil:
			return
		default:
			o.breaker.RecordFailure()
			logger.Errorf("orchestrator: cycle failed (%d/%d consecutive): %v",
				o.breaker.Failures(), o.cfg.MaxConsecutiveFailures, err)
			// The breaker trips open at the consecutive-failure threshold;
			// an open breaker ends the loop.
			if !o.breaker.Allow() {
				o.escalate(err)
				return
			}
			if werr := wait(ctx, o.cfg.FallbackPause); werr != nil {
				return
			}
			continue
		}

		if err := o.policy.Pause(ctx, pacing.ActionCycle); err != nil {
			return
		}
		if err := wait(ctx, o.cfg.CycleInterval); err != nil {
			return
		}
	}
}

// iterate runs one full cycle: signal pipeline, position monitoring, run
// stats. Panics are converted to errors so a misbehaving provider cannot
// kill the loop.
func (o *Orchestrator) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	if err := o.pipe.Cycle(ctx); err != nil {
		return err
	}
	o.positions.MonitorTick(ctx)

	o.mu.Lock()
	o.cycles++
	cycles := o.cycles
	o.mu.Unlock()

	if cycles%10 == 0 {
		o.persistRunState(ctx)
	}
	return nil
}

// escalate parks the orchestrator in Error. Positions stay open: an
// operator (or Stop) decides what happens to them.
func (o *Orchestrator) escalate(cause error) {
	o.setState(StateError)
	o.persistRunState(context.Background())
	o.notify(notifier.EventBotStopped, map[string]any{
		"error": cause.Error(),
		"state": StateError.String(),
	})
	logger.Errorf("orchestrator: escalated to error state: %v", cause)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
