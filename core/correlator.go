package core

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lisuiheng/onebot-go/metrics"
)

// Correlator matches responses to the calls waiting for them, keyed by echo.
type Correlator struct {
	logger  *slog.Logger
	pending sync.Map // echo -> chan Envelope
	count   atomic.Int64
	newID   func() string
}

func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Register reserves a fresh echo and returns the channel its response will
// be delivered on. The channel receives at most one envelope.
func (c *Correlator) Register() (string, <-chan Envelope) {
	slot := make(chan Envelope, 1)
	for {
		id := c.newID()
		if _, loaded := c.pending.LoadOrStore(id, slot); !loaded {
			c.count.Add(1)
			metrics.PendingCalls.Inc()
			return id, slot
		}
		c.logger.Debug("Echo collision, regenerating", "echo", id)
	}
}

// Resolve delivers env to the waiter registered under id. It returns false
// when nobody is waiting, e.g. the caller already timed out.
func (c *Correlator) Resolve(id string, env Envelope) bool {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		c.logger.Debug("No waiter for response, dropping", "echo", id)
		return false
	}
	c.release()
	v.(chan Envelope) <- env
	return true
}

// Cancel drops the registration without completing it.
func (c *Correlator) Cancel(id string) {
	if _, ok := c.pending.LoadAndDelete(id); ok {
		c.release()
	}
}

// Pending returns the number of calls still waiting.
func (c *Correlator) Pending() int {
	return int(c.count.Load())
}

func (c *Correlator) release() {
	c.count.Add(-1)
	metrics.PendingCalls.Dec()
}
