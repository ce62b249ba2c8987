package realtime

import (
	"time"

	"github.com/turtacn/contatto/pkg/constants"
)

// BackoffPolicy decides how long to wait before a reconnect attempt. The first
// FixedAttempts attempts wait BaseDelay; the next DoublingSteps attempts double
// it each time; every later attempt waits MaxDelay. Retries never stop.
type BackoffPolicy struct {
	BaseDelay     time.Duration
	FixedAttempts int
	DoublingSteps int
	MaxDelay      time.Duration
	// StableDuration is how long a connection must stay connected before the
	// attempt counter resets.
	StableDuration time.Duration
}

// DefaultBackoffPolicy waits 5s five times, then 10s, 20s, 40s, then 300s forever.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:      constants.ReconnectBaseDelay,
		FixedAttempts:  constants.ReconnectFixedAttempts,
		DoublingSteps:  constants.ReconnectDoublingSteps,
		MaxDelay:       constants.ReconnectMaxDelay,
		StableDuration: constants.ReconnectStableDuration,
	}
}

// Delay returns the wait before the given 1-based attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt <= p.FixedAttempts {
		return p.capped(p.BaseDelay)
	}
	step := attempt - p.FixedAttempts
	if step > p.DoublingSteps {
		return p.MaxDelay
	}
	d := p.BaseDelay
	for i := 0; i < step; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

func (p BackoffPolicy) capped(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ResetsAfter reports whether a connection that stayed up for uptime earns a
// fresh attempt counter.
func (p BackoffPolicy) ResetsAfter(uptime time.Duration) bool {
	return uptime >= p.StableDuration
}
