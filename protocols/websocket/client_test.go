package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lisuiheng/onebot-go/core"
)

var _ = Describe("Client", func() {
	var (
		impl   *mockImpl
		client *Client
		cfg    Config
	)

	newClient := func(cfg Config) *Client {
		c, err := NewClient(cfg, nil, core.NewCorrelator(nil), core.NewEventBus(nil), testLogger())
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	awaitConnected := func(c *Client) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := c.AwaitConnected(ctx)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		impl = newMockImpl()
		cfg = impl.config()
	})

	AfterEach(func() {
		if client != nil {
			Expect(client.Close()).To(Succeed())
			client = nil
		}
		impl.Close()
	})

	When("the implementation is reachable", func() {
		BeforeEach(func() {
			cfg.AccessToken = ptr("s3cret")
			client = newClient(cfg)
			Expect(client.Start()).To(Succeed())
			awaitConnected(client)
		})

		It("presents the access token as a bearer header", func() {
			var header http.Header
			Eventually(impl.headers).Should(Receive(&header))
			Expect(header["Authorization"]).To(ConsistOf("Bearer s3cret"))
			Expect(client.State()).To(Equal(ClientConnected))
			Expect(client.Attempts()).To(Equal(1))
		})

		It("completes a call with the matching response", func() {
			res, err := client.Call(context.Background(), "get_status", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Async).To(BeFalse())
			Expect(string(res.Data)).To(MatchJSON(`{"online":true}`))
		})

		It("times out calls nobody answers", func() {
			_, err := client.Call(context.Background(), "never_answered", nil)
			Expect(err).To(MatchError(core.ErrTimeout))
		})

		It("answers a pushed event with a quick operation", func() {
			_, err := client.RegisterHandler(func(_ context.Context, event json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"reply":"pong"}`), nil
			})
			Expect(err).NotTo(HaveOccurred())

			var conn *implConn
			Eventually(impl.conns).Should(Receive(&conn))
			Expect(conn.write(`{"post_type":"message","message":"ping"}`)).To(Succeed())

			var req sentRequest
			Eventually(conn.requests).Should(Receive(&req))
			Expect(req.Action).To(Equal(core.QuickOperationAction))
			Expect(string(req.Params)).To(MatchJSON(`{"context":{"post_type":"message","message":"ping"},"operation":{"reply":"pong"}}`))
		})

		It("reconnects after the implementation drops the connection", func() {
			var conn *implConn
			Eventually(impl.conns).Should(Receive(&conn))
			conn.close()

			Eventually(client.Attempts).WithTimeout(2 * time.Second).Should(Equal(2))
			awaitConnected(client)
		})

		It("closes the socket on Disconnect and then reconnects", func() {
			Expect(client.Disconnect("test")).To(Succeed())
			Eventually(client.Attempts).WithTimeout(2 * time.Second).Should(BeNumerically(">=", 2))
		})

		It("can be closed from inside an event handler", func() {
			closed := make(chan error, 1)
			_, err := client.RegisterHandler(func(context.Context, json.RawMessage) (json.RawMessage, error) {
				closed <- client.Close()
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())

			var conn *implConn
			Eventually(impl.conns).Should(Receive(&conn))
			Expect(conn.write(`{"post_type":"message","message":"/shutdown"}`)).To(Succeed())

			Eventually(closed).WithTimeout(2 * time.Second).Should(Receive(BeNil()))
			Expect(client.State()).To(Equal(ClientDisconnected))
			Eventually(conn.closeErr).Should(Receive())
		})

		It("stops for good on Close", func() {
			Expect(client.Close()).To(Succeed())
			Expect(client.State()).To(Equal(ClientDisconnected))
			Expect(client.CurrentSocket()).To(BeNil())

			Expect(client.Start()).To(MatchError(ErrClientDisconnected))
			_, err := client.Call(context.Background(), "get_status", nil)
			Expect(err).To(MatchError(core.ErrConnectionNotEstablished))
			client = nil
		})
	})

	When("the implementation is unreachable", func() {
		BeforeEach(func() {
			cfg.Port = deadPort()
			cfg.MaxReconnectAttempts = 3
			cfg.ReconnectInterval = 10 * time.Millisecond
			client = newClient(cfg)
		})

		It("gives up after the configured number of attempts", func() {
			Expect(client.Start()).To(Succeed())

			Eventually(client.State).WithTimeout(2 * time.Second).Should(Equal(ClientDisconnected))
			Expect(client.Attempts()).To(Equal(3))

			_, err := client.AwaitConnected(context.Background())
			Expect(err).To(MatchError(ErrClientDisconnected))
		})

	})

	Context("before Start", func() {
		BeforeEach(func() {
			client = newClient(cfg)
		})

		It("has no socket to disconnect", func() {
			Expect(client.State()).To(Equal(ClientInitialized))
			Expect(client.Disconnect("nothing")).To(MatchError(core.ErrConnectionNotEstablished))
		})

		It("rejects calls", func() {
			_, err := client.Call(context.Background(), "get_status", nil)
			Expect(err).To(MatchError(core.ErrConnectionNotEstablished))
			Expect(client.Send("get_status", nil)).To(MatchError(core.ErrConnectionNotEstablished))
		})

		It("blocks Await until the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err := client.Await(ctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("can be closed without being started", func() {
			Expect(client.Close()).To(Succeed())
			Expect(client.State()).To(Equal(ClientDisconnected))
			client = nil
		})
	})

	When("the implementation rejects the handshake", func() {
		It("reports an authorization failure", func() {
			reject := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer reject.Close()

			host, port, _ := net.SplitHostPort(reject.Listener.Addr().String())
			cfg.Host = host
			cfg.Port, _ = strconv.Atoi(port)
			client = newClient(cfg)

			_, err := client.dial()
			Expect(err).To(MatchError(core.ErrAuthorizationRejected))
		})
	})

	When("heartbeats are expected", func() {
		BeforeEach(func() {
			cfg.HeartbeatInterval = 150 * time.Millisecond
			client = newClient(cfg)
			Expect(client.Start()).To(Succeed())
			awaitConnected(client)
		})

		It("drops a silent connection and reconnects", func() {
			Eventually(client.Attempts).WithTimeout(2 * time.Second).Should(BeNumerically(">=", 2))
		})

		It("keeps a connection that sends heartbeats", func() {
			var conn *implConn
			Eventually(impl.conns).Should(Receive(&conn))

			stop := make(chan struct{})
			defer close(stop)
			go func() {
				ticker := time.NewTicker(20 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
						_ = conn.write(`{"post_type":"meta_event","meta_event_type":"heartbeat","interval":20}`)
					}
				}
			}()

			Consistently(client.Attempts).WithTimeout(500 * time.Millisecond).Should(Equal(1))
		})
	})
})
