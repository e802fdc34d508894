package exchange

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 60 * time.Second}

	// With +/-20% jitter each delay lies in [0.8, 1.2] x nominal.
	cases := []struct {
		attempt int
		nominal time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{6, 60 * time.Second},  // 64s nominal, capped
		{20, 60 * time.Second}, // far past the cap
	}
	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			d := b.Next(tc.attempt)
			lo := time.Duration(float64(tc.nominal) * 0.8)
			hi := time.Duration(float64(tc.nominal) * 1.2)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", tc.attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffZeroValueDefaults(t *testing.T) {
	var b Backoff
	if d := b.Next(0); d < 800*time.Millisecond || d > 1200*time.Millisecond {
		t.Errorf("zero-value base: got %v", d)
	}
}
