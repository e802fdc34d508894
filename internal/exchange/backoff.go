package exchange

import (
	"math/rand"
	"time"
)

// Backoff computes exponential reconnect delays: min(base*2^attempt, cap)
// with +/-20% jitter. Attempt 0 is the first retry.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the adapter reconnect policy: 1s base, 60s cap.
var DefaultBackoff = Backoff{Base: time.Second, Cap: 60 * time.Second}

// Next returns the delay before retry number attempt.
func (b Backoff) Next(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	capD := b.Cap
	if capD <= 0 {
		capD = 60 * time.Second
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= capD {
			d = capD
			break
		}
	}

	// jitter +/-20%
	jitter := 0.8 + 0.4*rand.Float64()
	d = time.Duration(float64(d) * jitter)
	if d > time.Duration(float64(capD)*1.2) {
		d = capD
	}
	return d
}
