package storage

import "time"

// SetClock overrides the retention clock (for testing).
func (r *Retention) SetClock(clock func() time.Time) {
	r.clock = clock
}
