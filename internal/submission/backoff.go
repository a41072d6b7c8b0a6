// internal/submission/backoff.go
package submission

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// rangeBackOff grows exponentially from min with jitter and never leaves
// [min, max].
type rangeBackOff struct {
	min        time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	current    time.Duration
	random     func() float64
}

var _ backoff.BackOff = (*rangeBackOff)(nil)

func newRangeBackOff(min, max time.Duration) *rangeBackOff {
	b := &rangeBackOff{
		min:        min,
		max:        max,
		multiplier: 2,
		jitter:     0.5,
		random:     rand.Float64,
	}
	b.Reset()
	return b
}

func (b *rangeBackOff) Reset() {
	b.current = b.min
}

func (b *rangeBackOff) NextBackOff() time.Duration {
	next := time.Duration(float64(b.current) * (1 + b.jitter*b.random()))
	if next < b.min {
		next = b.min
	}
	if next > b.max {
		next = b.max
	}

	grown := time.Duration(float64(b.current) * b.multiplier)
	if grown > b.max || grown <= 0 {
		grown = b.max
	}
	b.current = grown
	return next
}
