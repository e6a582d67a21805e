package reconcile

import (
	"math"
	"time"
)

// Backoff computes the cool-down after consecutive failures of one item.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base·2^(failures-1), capped at Max. Zero Base disables
// the cool-down. Without a Max the doubling stops short of overflow.
func (b Backoff) Delay(failures int) time.Duration {
	if b.Base <= 0 || failures <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < failures; i++ {
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Next returns when an item that has now failed `failures` times may be
// attempted again, or nil when there is no cool-down.
func (b Backoff) Next(now time.Time, failures int) *time.Time {
	d := b.Delay(failures)
	if d == 0 {
		return nil
	}
	t := now.Add(d)
	return &t
}
