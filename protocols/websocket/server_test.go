package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/lisuiheng/onebot-go/core"
)

var _ = Describe("Server", func() {
	var (
		server *Server
		cfg    Config
		url    string
		peers  []*implConn
	)

	selfID := func(id string) http.Header {
		h := http.Header{}
		h.Set("X-Self-ID", id)
		return h
	}

	connect := func(header http.Header) *implConn {
		peer, _, err := dialPeer(url, header)
		Expect(err).NotTo(HaveOccurred())
		peers = append(peers, peer)
		return peer
	}

	awaitConnected := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := server.AwaitConnected(ctx)
		Expect(err).NotTo(HaveOccurred())
	}

	start := func() {
		var err error
		server, err = NewServer(cfg, nil, core.NewCorrelator(nil), core.NewEventBus(nil), testLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(server.Start()).To(Succeed())
		url = "ws://" + server.Addr() + cfg.Path
	}

	BeforeEach(func() {
		cfg = DefaultConfig()
		cfg.Port = 0
		cfg.Path = "/onebot/v11/ws"
		cfg.ResponseTimeout = time.Second
		peers = nil
	})

	AfterEach(func() {
		for _, p := range peers {
			p.close()
		}
		if server != nil {
			Expect(server.Close()).To(Succeed())
			server = nil
		}
	})

	Context("without an access token", func() {
		BeforeEach(start)

		It("starts out waiting", func() {
			Expect(server.State()).To(Equal(ServerWaiting))
			Expect(server.SelfID()).To(BeZero())
			Expect(server.Disconnect("nobody")).To(MatchError(core.ErrConnectionNotEstablished))
		})

		It("accepts a peer and records its self id", func() {
			connect(selfID("10001"))
			awaitConnected()
			Expect(server.SelfID()).To(Equal(int64(10001)))
			Expect(server.CurrentSocket()).NotTo(BeNil())
		})

		It("calls the connected peer", func() {
			connect(selfID("10001"))
			awaitConnected()

			res, err := server.Call(context.Background(), "get_status", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(res.Data)).To(MatchJSON(`{"online":true}`))
		})

		It("answers a pushed event with a quick operation", func() {
			_, err := server.RegisterHandler(func(context.Context, json.RawMessage) (json.RawMessage, error) {
				return json.RawMessage(`{"approve":true}`), nil
			})
			Expect(err).NotTo(HaveOccurred())

			peer := connect(selfID("10001"))
			awaitConnected()
			Expect(peer.write(`{"post_type":"request","request_type":"friend"}`)).To(Succeed())

			var req sentRequest
			Eventually(peer.requests).Should(Receive(&req))
			Expect(req.Action).To(Equal(core.QuickOperationAction))
			Expect(string(req.Params)).To(MatchJSON(`{"context":{"post_type":"request","request_type":"friend"},"operation":{"approve":true}}`))
		})

		It("turns away a second peer and keeps the first", func() {
			first := connect(selfID("10001"))
			awaitConnected()

			second := connect(selfID("10002"))
			var err error
			Eventually(second.closeErr).Should(Receive(&err))

			var closeErr *gorilla.CloseError
			Expect(errors.As(err, &closeErr)).To(BeTrue())
			Expect(closeErr.Code).To(Equal(gorilla.CloseNormalClosure))
			Expect(closeErr.Text).To(Equal(reasonAlreadyConnected))

			Expect(server.State()).To(Equal(ServerConnected))
			Expect(server.SelfID()).To(Equal(int64(10001)))
			Consistently(first.closeErr).WithTimeout(100 * time.Millisecond).ShouldNot(Receive())

			res, err := server.Call(context.Background(), "get_status", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(res.Data)).To(MatchJSON(`{"online":true}`))
		})

		It("returns to waiting when the peer leaves", func() {
			peer := connect(selfID("10001"))
			awaitConnected()

			peer.close()
			Eventually(server.State).Should(Equal(ServerWaiting))
			Expect(server.SelfID()).To(BeZero())

			connect(selfID("10003"))
			awaitConnected()
			Expect(server.SelfID()).To(Equal(int64(10003)))
		})

		It("drops the peer on Disconnect and accepts the next one", func() {
			peer := connect(selfID("10001"))
			awaitConnected()

			Expect(server.Disconnect("maintenance")).To(Succeed())
			var err error
			Eventually(peer.closeErr).Should(Receive(&err))
			Expect(gorilla.IsCloseError(err, gorilla.CloseNormalClosure)).To(BeTrue())
			Eventually(server.State).Should(Equal(ServerWaiting))
		})

		It("rejects a missing or malformed self id", func() {
			for _, header := range []http.Header{{}, selfID("not-a-number")} {
				_, resp, err := dialPeer(url, header)
				Expect(err).To(MatchError(gorilla.ErrBadHandshake))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			}
			Expect(server.State()).To(Equal(ServerWaiting))
		})

		It("can be closed from inside an event handler", func() {
			closed := make(chan error, 1)
			_, err := server.RegisterHandler(func(context.Context, json.RawMessage) (json.RawMessage, error) {
				closed <- server.Close()
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())

			peer := connect(selfID("10001"))
			awaitConnected()
			Expect(peer.write(`{"post_type":"message","message":"/shutdown"}`)).To(Succeed())

			Eventually(closed).WithTimeout(2 * time.Second).Should(Receive(BeNil()))
			Expect(server.State()).To(Equal(ServerClosed))
			Eventually(peer.closeErr).Should(Receive())
		})

		It("closes the peer and refuses new ones on Close", func() {
			peer := connect(selfID("10001"))
			awaitConnected()

			Expect(server.Close()).To(Succeed())
			Expect(server.State()).To(Equal(ServerClosed))

			var err error
			Eventually(peer.closeErr).Should(Receive(&err))
			Expect(gorilla.IsCloseError(err, gorilla.CloseNormalClosure)).To(BeTrue())

			_, _, err = dialPeer(url, selfID("10001"))
			Expect(err).To(HaveOccurred())

			Expect(server.Start()).To(MatchError(ErrServerClosed))
			_, err = server.AwaitConnected(context.Background())
			Expect(err).To(MatchError(ErrServerClosed))
			server = nil
		})
	})

	Context("with an access token", func() {
		BeforeEach(func() {
			cfg.AccessToken = ptr("s3cret")
			start()
		})

		It("accepts a matching bearer token", func() {
			h := selfID("10001")
			h.Set("Authorization", "Bearer s3cret")
			connect(h)
			awaitConnected()
		})

		It("accepts a matching query token", func() {
			url += "?access_token=s3cret"
			connect(selfID("10001"))
			awaitConnected()
		})

		It("answers 401 when no token is presented", func() {
			_, resp, err := dialPeer(url, selfID("10001"))
			Expect(err).To(MatchError(gorilla.ErrBadHandshake))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("answers 401 for a malformed header", func() {
			h := selfID("10001")
			h.Set("Authorization", "s3cret")
			_, resp, err := dialPeer(url, h)
			Expect(err).To(MatchError(gorilla.ErrBadHandshake))
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("answers 403 for a wrong token", func() {
			h := selfID("10001")
			h.Set("Authorization", "Bearer wrong")
			_, resp, err := dialPeer(url, h)
			Expect(err).To(MatchError(gorilla.ErrBadHandshake))
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			Expect(server.State()).To(Equal(ServerWaiting))
		})
	})

	Context("when closing", func() {
		var ignore goleak.Option

		BeforeEach(func() {
			ignore = goleak.IgnoreCurrent()
			cfg.HeartbeatInterval = time.Minute
			start()
		})

		It("stops every session goroutine before returning", func() {
			peer := connect(selfID("10001"))
			awaitConnected()
			Expect(server.Addr()).NotTo(BeEmpty())

			Expect(server.Close()).To(Succeed())
			server = nil
			peer.close()
			Eventually(peer.closeErr).Should(Receive())

			Eventually(func() error {
				return goleak.Find(ignore)
			}).WithTimeout(3 * time.Second).Should(Succeed())
		})
	})

	When("heartbeats are expected", func() {
		BeforeEach(func() {
			cfg.HeartbeatInterval = 150 * time.Millisecond
			start()
		})

		It("drops a silent peer", func() {
			peer := connect(selfID("10001"))
			awaitConnected()

			Eventually(peer.closeErr).WithTimeout(2 * time.Second).Should(Receive())
			Eventually(server.State).Should(Equal(ServerWaiting))
		})
	})
})
