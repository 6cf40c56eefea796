package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lisuiheng/onebot-go/metrics"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
)

// EventBus fans pushed events out to every registered handler.
type EventBus struct {
	logger   *slog.Logger
	handlers sync.Map // HandlerID -> interfaces.Handler
	closed   atomic.Bool
	newID    func() string
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		logger: logger,
		newID:  uuid.NewString,
	}
}

// RegisterHandler adds h to the bus and returns the handle used to remove it.
func (b *EventBus) RegisterHandler(h interfaces.Handler) (interfaces.HandlerID, error) {
	if h == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	if b.closed.Load() {
		return "", ErrBusClosed
	}
	for {
		id := interfaces.HandlerID(b.newID())
		if _, loaded := b.handlers.LoadOrStore(id, h); !loaded {
			b.logger.Debug("Handler registered", "handler", id)
			return id, nil
		}
	}
}

func (b *EventBus) UnregisterHandler(id interfaces.HandlerID) bool {
	_, ok := b.handlers.LoadAndDelete(id)
	return ok
}

// Dispatch runs every handler against event. At most one handler may return
// a non-empty result; a second one is reported as ErrHandlerConflict.
// Handler errors and panics are logged and count as no result.
func (b *EventBus) Dispatch(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	var (
		mu      sync.Mutex
		results []json.RawMessage
		g       errgroup.Group
	)
	b.handlers.Range(func(key, value any) bool {
		id := key.(interfaces.HandlerID)
		h := value.(interfaces.Handler)
		g.Go(func() error {
			res, err := invoke(ctx, h, event)
			if err != nil {
				metrics.HandlerErrorsTotal.WithLabelValues("error").Inc()
				b.logger.Error("Event handler failed", "handler", id, "error", err)
				return nil
			}
			if IsEmpty(res) {
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
		return true
	})
	_ = g.Wait()

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		metrics.HandlerErrorsTotal.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: %d results", ErrHandlerConflict, len(results))
	}
}

// Len returns the number of registered handlers.
func (b *EventBus) Len() int {
	n := 0
	b.handlers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close removes every handler and rejects further use.
func (b *EventBus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.handlers.Range(func(key, _ any) bool {
		b.handlers.Delete(key)
		return true
	})
}

func invoke(ctx context.Context, h interfaces.Handler, event json.RawMessage) (res json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, event)
}
