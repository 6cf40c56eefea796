package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lisuiheng/onebot-go/core"
	"github.com/lisuiheng/onebot-go/metrics"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
)

type connState interface {
	comparable
	fmt.Stringer
}

// machine holds a connection's state and socket under one lock. Every state
// change wakes all goroutines blocked in wait.
type machine[S connState] struct {
	mu      sync.RWMutex
	state   S
	sock    interfaces.Socket
	changed chan struct{}

	edges    map[S][]S
	topology string
	logger   *slog.Logger
}

func (m *machine[S]) init(initial S, edges map[S][]S, topology string, logger *slog.Logger) {
	m.state = initial
	m.changed = make(chan struct{})
	m.edges = edges
	m.topology = topology
	m.logger = logger
}

// setLocked moves to state to. The caller holds mu for writing. An edge
// missing from the table is a programming error and panics.
func (m *machine[S]) setLocked(to S) {
	from := m.state
	if from == to {
		return
	}
	if !slices.Contains(m.edges[from], to) {
		panic(fmt.Sprintf("illegal %s state transition %s -> %s", m.topology, from, to))
	}

	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})

	metrics.StateTransitionsTotal.WithLabelValues(m.topology, to.String()).Inc()
	m.logger.Info("State changed",
		"from", from,
		"to", to)
}

// advance moves to state to unless the machine is in terminal.
func (m *machine[S]) advance(to, terminal S) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == terminal {
		return false
	}
	m.setLocked(to)
	return true
}

func (m *machine[S]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *machine[S]) CurrentSocket() interfaces.Socket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sock
}

// detach clears the current socket if it is still sock.
func (m *machine[S]) detach(sock interfaces.Socket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sock != sock {
		return false
	}
	m.sock = nil
	return true
}

// wait blocks until the next state change or until ctx is done.
func (m *machine[S]) wait(ctx context.Context) error {
	m.mu.RLock()
	ch := m.changed
	m.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch calls onHungry once if dog goes hungry before done or dying closes.
func watch(dog *core.Watchdog, done, dying <-chan struct{}, logger *slog.Logger, onHungry func()) {
	if dog.Interval() <= 0 {
		return
	}

	period := dog.Interval() / 2
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-dying:
			return
		case <-ticker.C:
			if dog.IsHungry() {
				metrics.WatchdogTimeoutsTotal.Inc()
				logger.Warn("No heartbeat received in time, dropping connection",
					"interval", dog.Interval(),
					"last_fed", dog.LastFed())
				onHungry()
				return
			}
		}
	}
}
