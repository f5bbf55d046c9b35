package utils

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultProgressInterval is the minimum gap between two transfer progress reports.
const DefaultProgressInterval = 150 * time.Millisecond

// Throttle runs a function at most once per interval. The first call always runs.
type Throttle struct {
	s rate.Sometimes
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Throttle{s: rate.Sometimes{Interval: interval}}
}

func (t *Throttle) Do(f func()) {
	t.s.Do(f)
}
