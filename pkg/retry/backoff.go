package retry

import (
	"math"
	"time"
)

// Backoff computes exponential delays capped at the policy maximum
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
}

// NewBackoff creates a backoff calculator for a policy
func NewBackoff(policy Policy) *Backoff {
	multiplier := policy.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}
	return &Backoff{
		initial:    policy.InitialDelay,
		max:        policy.MaxDelay,
		multiplier: multiplier,
	}
}

// Calculate returns the delay before the given attempt (1-based)
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 || b.initial == 0 {
		return 0
	}
	delay := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if b.max > 0 && delay > float64(b.max) {
		return b.max
	}
	return time.Duration(delay)
}
