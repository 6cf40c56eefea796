package core

import (
	"sync/atomic"
	"time"
)

// Watchdog tracks when a liveness signal was last seen.
type Watchdog struct {
	interval time.Duration
	lastFed  atomic.Int64
	now      func() time.Time
}

// NewWatchdog 创建看门狗，创建时即视为已喂食
func NewWatchdog(interval time.Duration) *Watchdog {
	w := &Watchdog{interval: interval, now: time.Now}
	w.Feed()
	return w
}

func (w *Watchdog) Feed() {
	w.lastFed.Store(w.now().UnixNano())
}

// IsHungry reports whether more than the interval has passed since the last
// Feed. A non-positive interval never goes hungry.
func (w *Watchdog) IsHungry() bool {
	if w.interval <= 0 {
		return false
	}
	return w.now().Sub(time.Unix(0, w.lastFed.Load())) > w.interval
}

func (w *Watchdog) Interval() time.Duration {
	return w.interval
}

// LastFed returns the time of the most recent Feed.
func (w *Watchdog) LastFed() time.Time {
	return time.Unix(0, w.lastFed.Load())
}
