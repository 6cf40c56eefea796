package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/lisuiheng/onebot-go/auth"
	"github.com/lisuiheng/onebot-go/core"
	"github.com/lisuiheng/onebot-go/metrics"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
	"github.com/lisuiheng/onebot-go/utils"
)

// ClientState 正向连接状态
type ClientState int

const (
	ClientInitialized ClientState = iota
	ClientConnecting
	ClientConnected
	ClientWaiting
	ClientDisconnected
)

func (s ClientState) String() string {
	switch s {
	case ClientInitialized:
		return "initialized"
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	case ClientWaiting:
		return "waiting"
	case ClientDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

var clientEdges = map[ClientState][]ClientState{
	ClientInitialized: {ClientConnecting, ClientDisconnected},
	ClientConnecting:  {ClientConnected, ClientWaiting, ClientDisconnected},
	ClientConnected:   {ClientWaiting, ClientDisconnected},
	ClientWaiting:     {ClientConnecting, ClientDisconnected},
}

var ErrClientDisconnected = errors.New("client disconnected")

var _ interfaces.Connection = (*Client)(nil)

// Client dials the remote implementation and keeps reconnecting at a fixed
// interval until it runs out of attempts or is closed.
type Client struct {
	machine[ClientState]

	tmb      tomb.Tomb
	started  atomic.Bool
	attempts atomic.Int64

	config    Config
	logger    *slog.Logger
	dialer    *gorilla.Dialer
	strategy  utils.ReconnectStrategy
	bus       *core.EventBus
	receiver  *core.Receiver
	requester *core.Requester
}

// NewClient 创建正向 WebSocket 客户端。codec 为 nil 时使用 JSON 编解码
func NewClient(cfg Config, codec core.Codec, correlator *core.Correlator, bus *core.EventBus, log *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if correlator == nil || bus == nil {
		return nil, errors.New("correlator and event bus are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if codec == nil {
		codec = core.JSONCodec{}
	}

	c := &Client{
		config: cfg,
		logger: log,
		dialer: &gorilla.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		strategy: utils.NewFixedInterval(cfg.ReconnectInterval, cfg.MaxReconnectAttempts),
		bus:      bus,
		receiver: core.NewReceiver(codec, correlator, bus, log),
	}
	c.machine.init(ClientInitialized, clientEdges, "outbound", log)
	c.requester = core.NewRequester(codec, correlator, c, cfg.ResponseTimeout, log)
	return c, nil
}

// Start launches the background connect loop and returns immediately.
func (c *Client) Start() error {
	if c.State() == ClientDisconnected {
		return ErrClientDisconnected
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client already started")
	}
	c.tmb.Go(c.run)
	return nil
}

func (c *Client) run() error {
	c.logger.Info("Connect loop started", "url", c.config.URL())
	defer c.logger.Info("Connect loop stopped")

	for {
		if !c.advance(ClientConnecting, ClientDisconnected) {
			return nil
		}

		attempt := c.attempts.Add(1)
		if sock, err := c.dial(); err != nil {
			metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()
			c.logger.Warn("Failed to connect", "url", c.config.URL(), "attempt", attempt, "error", err)
		} else {
			metrics.ConnectAttemptsTotal.WithLabelValues("success").Inc()
			c.strategy.Reset()
			c.serve(sock)
		}

		delay := c.strategy.NextDelay()
		if delay == utils.Stop {
			c.logger.Warn("Giving up on reconnecting", "attempts", attempt)
			c.advance(ClientDisconnected, ClientDisconnected)
			return nil
		}
		if !c.advance(ClientWaiting, ClientDisconnected) {
			return nil
		}

		c.logger.Info("Reconnecting", "delay", delay)
		select {
		case <-c.tmb.Dying():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Client) dial() (*socket, error) {
	headers := http.Header{}
	if token, ok := c.config.Token(); ok {
		headers.Set(auth.HeaderAuthorization, fmt.Sprintf("Bearer %s", token))
	}

	ctx := c.tmb.Context(context.Background())
	if c.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL(), headers)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: http status %d", core.ErrAuthorizationRejected, resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: %v (http status %d)", interfaces.ErrConnectionFailed, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	return newSocket(conn), nil
}

// serve publishes sock as the current socket and runs the receiving loop on
// it until it ends.
func (c *Client) serve(sock *socket) {
	c.mu.Lock()
	if c.state != ClientConnecting {
		c.mu.Unlock()
		_ = sock.Close("client closed")
		return
	}
	c.sock = sock
	c.setLocked(ClientConnected)
	c.mu.Unlock()

	dog := core.NewWatchdog(c.config.HeartbeatInterval)
	done := make(chan struct{})
	c.tmb.Go(func() error {
		watch(dog, done, c.tmb.Dying(), c.logger, func() {
			_ = sock.Close("heartbeat timeout")
		})
		return nil
	})

	c.receiver.Run(c.tmb.Context(context.Background()), sock, dog)
	close(done)

	c.detach(sock)
	_ = sock.Close("")
}

// Await blocks until the next state change and returns the client.
func (c *Client) Await(ctx context.Context) (*Client, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// AwaitConnected blocks until the client is connected. It fails once the
// client reaches the terminal state.
func (c *Client) AwaitConnected(ctx context.Context) (*Client, error) {
	for {
		switch c.State() {
		case ClientConnected:
			return c, nil
		case ClientDisconnected:
			return nil, ErrClientDisconnected
		}
		if _, err := c.Await(ctx); err != nil {
			return nil, err
		}
	}
}

// Attempts returns how many connection attempts have been made.
func (c *Client) Attempts() int {
	return int(c.attempts.Load())
}

// Disconnect closes the active socket. The connect loop then decides whether
// to reconnect.
func (c *Client) Disconnect(reason string) error {
	sock := c.CurrentSocket()
	if sock == nil {
		return core.ErrConnectionNotEstablished
	}
	c.logger.Info("Disconnecting", "reason", reason)
	return sock.Close(reason)
}

// Close stops reconnecting, releases the socket and waits for the connect
// loop to exit. Pending calls are left to time out.
func (c *Client) Close() error {
	c.mu.Lock()
	c.setLocked(ClientDisconnected)
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close("client closed")
	}

	c.tmb.Kill(nil)
	if c.started.Load() {
		return c.tmb.Wait()
	}
	return nil
}

func (c *Client) RegisterHandler(h interfaces.Handler) (interfaces.HandlerID, error) {
	return c.bus.RegisterHandler(h)
}

func (c *Client) UnregisterHandler(id interfaces.HandlerID) bool {
	return c.bus.UnregisterHandler(id)
}

func (c *Client) Call(ctx context.Context, action string, params any) (interfaces.Result, error) {
	return c.requester.Call(ctx, action, params)
}

func (c *Client) Send(action string, params any) error {
	return c.requester.Send(action, params)
}
