package adaptive

import "time"

// Clock abstracts wall time so TTL and rate-window behavior is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real-time clock used outside of tests.
func SystemClock() Clock { return systemClock{} }
