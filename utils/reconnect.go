package utils

import (
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Stop is returned by NextDelay once no attempts remain.
const Stop = backoff.Stop

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

// FixedInterval waits the same interval between attempts. With maxAttempts > 0
// it allows that many attempts in total, otherwise it never stops.
type FixedInterval struct {
	b backoff.BackOff
}

func NewFixedInterval(interval time.Duration, maxAttempts int) *FixedInterval {
	var b backoff.BackOff = backoff.NewConstantBackOff(interval)
	if maxAttempts > 0 {
		// the first attempt is not a retry
		b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	}
	b.Reset()
	return &FixedInterval{b: b}
}

// NextDelay returns the wait before the next attempt, or Stop.
func (f *FixedInterval) NextDelay() time.Duration {
	return f.b.NextBackOff()
}

func (f *FixedInterval) Reset() {
	f.b.Reset()
}
