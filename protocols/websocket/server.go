package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/lisuiheng/onebot-go/auth"
	"github.com/lisuiheng/onebot-go/core"
	"github.com/lisuiheng/onebot-go/metrics"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
)

// ServerState 反向连接状态
type ServerState int

const (
	ServerWaiting ServerState = iota
	ServerConnected
	ServerClosed
)

func (s ServerState) String() string {
	switch s {
	case ServerWaiting:
		return "waiting"
	case ServerConnected:
		return "connected"
	case ServerClosed:
		return "closed"
	default:
		return fmt.Sprintf("ServerState(%d)", int(s))
	}
}

var serverEdges = map[ServerState][]ServerState{
	ServerWaiting:   {ServerConnected, ServerClosed},
	ServerConnected: {ServerWaiting, ServerClosed},
}

const (
	reasonAlreadyConnected = "another connection is already established"
	reasonServerClosed     = "server closed"

	shutdownTimeout = 5 * time.Second
)

var ErrServerClosed = errors.New("server closed")

var _ interfaces.Connection = (*Server)(nil)

// Server accepts reverse connections from the remote implementation, one
// peer at a time.
type Server struct {
	machine[ServerState]

	tmb      tomb.Tomb
	started  atomic.Bool
	sessions sync.WaitGroup
	selfID   atomic.Int64
	listener net.Listener
	server   *http.Server

	config     Config
	logger     *slog.Logger
	authorizer *auth.Authorizer
	upgrader   gorilla.Upgrader
	bus        *core.EventBus
	receiver   *core.Receiver
	requester  *core.Requester
}

// NewServer 创建反向 WebSocket 服务端。codec 为 nil 时使用 JSON 编解码
func NewServer(cfg Config, codec core.Codec, correlator *core.Correlator, bus *core.EventBus, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
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

	s := &Server{
		config:     cfg,
		logger:     log,
		authorizer: auth.New(cfg.AccessToken, cfg.Auth, log),
		upgrader: gorilla.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			// Peers are bots, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		bus:      bus,
		receiver: core.NewReceiver(codec, correlator, bus, log),
	}
	s.machine.init(ServerWaiting, serverEdges, "inbound", log)
	s.requester = core.NewRequester(codec, correlator, s, cfg.ResponseTimeout, log)
	return s, nil
}

// Start binds the listener and serves handshakes in the background.
func (s *Server) Start() error {
	if s.State() == ServerClosed {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get(s.config.Path, s.handle)
	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: s.config.HandshakeTimeout,
	}

	s.logger.Info("Reverse server listening", "addr", listener.Addr().String(), "path", s.config.Path)
	s.tmb.Go(func() error {
		if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.tmb.Go(func() error {
		<-s.tmb.Dying()
		timeout := s.config.HandshakeTimeout
		if timeout <= 0 {
			timeout = shutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.server.Shutdown(ctx)
	})
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.State() == ServerClosed {
		http.Error(w, reasonServerClosed, http.StatusServiceUnavailable)
		return
	}

	selfID, err := auth.ParseSelfID(r.Header.Get(auth.HeaderSelfID))
	if err != nil {
		metrics.AuthorizationRejectsTotal.WithLabelValues("self_id").Inc()
		s.logger.Warn("Rejecting handshake", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if v := s.authorizer.Authorize(r); !v.OK() {
		http.Error(w, v.Diagnostic, v.Outcome.HTTPStatus())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	sock := newSocket(conn)

	s.mu.Lock()
	switch s.state {
	case ServerConnected:
		s.mu.Unlock()
		s.logger.Warn("Rejecting peer, already connected", "remote_addr", r.RemoteAddr, "self_id", selfID)
		_ = sock.Close(reasonAlreadyConnected)
		return
	case ServerClosed:
		s.mu.Unlock()
		_ = sock.Close(reasonServerClosed)
		return
	}
	s.sock = sock
	s.selfID.Store(selfID)
	s.setLocked(ServerConnected)
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	s.logger.Info("Peer connected", "remote_addr", r.RemoteAddr, "self_id", selfID)
	s.serve(sock)
	s.logger.Info("Peer disconnected", "remote_addr", r.RemoteAddr, "self_id", selfID)
}

func (s *Server) serve(sock *socket) {
	dog := core.NewWatchdog(s.config.HeartbeatInterval)
	done := make(chan struct{})
	// 调用时会话计数已大于零
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		watch(dog, done, s.tmb.Dying(), s.logger, func() {
			_ = sock.Close("heartbeat timeout")
		})
	}()

	s.receiver.Run(s.tmb.Context(context.Background()), sock, dog)
	close(done)

	s.mu.Lock()
	if s.sock == sock {
		s.sock = nil
		s.selfID.Store(0)
		if s.state == ServerConnected {
			s.setLocked(ServerWaiting)
		}
	}
	s.mu.Unlock()
	_ = sock.Close("")
}

// SelfID returns the account id announced by the connected peer, or 0.
func (s *Server) SelfID() int64 {
	return s.selfID.Load()
}

// Await blocks until the next state change and returns the server.
func (s *Server) Await(ctx context.Context) (*Server, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AwaitConnected blocks until a peer is connected.
func (s *Server) AwaitConnected(ctx context.Context) (*Server, error) {
	for {
		switch s.State() {
		case ServerConnected:
			return s, nil
		case ServerClosed:
			return nil, ErrServerClosed
		}
		if _, err := s.Await(ctx); err != nil {
			return nil, err
		}
	}
}

// Disconnect drops the current peer; the server keeps accepting new ones.
func (s *Server) Disconnect(reason string) error {
	sock := s.CurrentSocket()
	if sock == nil {
		return core.ErrConnectionNotEstablished
	}
	s.logger.Info("Disconnecting peer", "reason", reason)
	return sock.Close(reason)
}

// Close stops the listener, drops the peer and forces the closed state.
func (s *Server) Close() error {
	s.mu.Lock()
	s.setLocked(ServerClosed)
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()

	if sock != nil {
		_ = sock.Close(reasonServerClosed)
	}

	s.tmb.Kill(nil)
	var err error
	if s.started.Load() {
		err = s.tmb.Wait()
	}
	s.sessions.Wait()
	return err
}

func (s *Server) RegisterHandler(h interfaces.Handler) (interfaces.HandlerID, error) {
	return s.bus.RegisterHandler(h)
}

func (s *Server) UnregisterHandler(id interfaces.HandlerID) bool {
	return s.bus.UnregisterHandler(id)
}

func (s *Server) Call(ctx context.Context, action string, params any) (interfaces.Result, error) {
	return s.requester.Call(ctx, action, params)
}

func (s *Server) Send(action string, params any) error {
	return s.requester.Send(action, params)
}
