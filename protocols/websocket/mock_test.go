package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
)

type sentRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   string          `json:"echo"`
}

func ptr(s string) *string { return &s }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// implConn plays the bot implementation on one connection: it records every
// request and answers get_status.
type implConn struct {
	conn     *gorilla.Conn
	mu       sync.Mutex
	requests chan sentRequest
	closeErr chan error
}

func newImplConn(conn *gorilla.Conn) *implConn {
	c := &implConn{
		conn:     conn,
		requests: make(chan sentRequest, 64),
		closeErr: make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *implConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeErr <- err
			return
		}
		var req sentRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		select {
		case c.requests <- req:
		default:
		}
		if req.Echo != "" && req.Action == "get_status" {
			_ = c.write(fmt.Sprintf(`{"status":"ok","retcode":0,"data":{"online":true},"echo":%q}`, req.Echo))
		}
	}
}

func (c *implConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(gorilla.TextMessage, []byte(frame))
}

func (c *implConn) close() {
	_ = c.conn.Close()
}

// mockImpl is a bot implementation accepting outbound clients.
type mockImpl struct {
	server  *httptest.Server
	headers chan http.Header
	conns   chan *implConn
}

func newMockImpl() *mockImpl {
	m := &mockImpl{
		headers: make(chan http.Header, 64),
		conns:   make(chan *implConn, 64),
	}
	upgrader := gorilla.Upgrader{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case m.headers <- r.Header.Clone():
		default:
		}
		select {
		case m.conns <- newImplConn(conn):
		default:
		}
	}))
	return m
}

func (m *mockImpl) config() Config {
	host, port, _ := net.SplitHostPort(m.server.Listener.Addr().String())
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port, _ = strconv.Atoi(port)
	cfg.ReconnectInterval = 20 * time.Millisecond
	cfg.ResponseTimeout = time.Second
	return cfg
}

func (m *mockImpl) Close() {
	m.server.CloseClientConnections()
	m.server.Close()
}

// dialPeer connects to a reverse server the way a bot implementation would.
func dialPeer(url string, header http.Header) (*implConn, *http.Response, error) {
	conn, resp, err := gorilla.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}
	return newImplConn(conn), resp, nil
}

// deadPort returns a local port nothing listens on.
func deadPort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}
