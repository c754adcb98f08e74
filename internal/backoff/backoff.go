// Package backoff computes exponential retry delays for the directory
// connection manager's reconnect path. The enumeration scheduler does not
// use this: per spec §4.6 its own backoff (or lack of it) is delegated to
// the caller, and it always reschedules from "now" on failure.
package backoff

import (
	"math"
	"time"
)

// Policy configures the backoff curve.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPolicy is a reasonable default for directory reconnect attempts.
var DefaultPolicy = Policy{
	InitialDelay: 100 * time.Millisecond,
	Multiplier:   2.0,
	MaxDelay:     30 * time.Second,
}

// Delay computes the delay before retry attempt N (1-indexed): attempt 1
// waits InitialDelay, attempt 2 waits InitialDelay*Multiplier, and so on,
// capped at MaxDelay.
func Delay(attempt int, policy Policy) time.Duration {
	delay := policy.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	if attempt <= 1 {
		return delay
	}

	multiplier := policy.Multiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}

	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	backoffFloat := float64(delay) * math.Pow(multiplier, float64(attempt-1))
	if backoffFloat > float64(maxDelay) || backoffFloat > float64(math.MaxInt64) {
		return maxDelay
	}

	return time.Duration(backoffFloat)
}
