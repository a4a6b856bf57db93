package capability

import (
	"math/rand/v2"
	"time"
)

// Jitter draws pause lengths uniformly from [Min, Min+Spread).
type Jitter struct {
	Min    time.Duration
	Spread time.Duration
}

// Next returns the next pause.
func (j Jitter) Next() time.Duration {
	if j.Spread <= 0 {
		return j.Min
	}
	return j.Min + time.Duration(rand.Int64N(int64(j.Spread)))
}
