package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/lisuiheng/onebot-go/metrics"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
)

// Receiver is the receiving loop shared by both connection topologies. It
// routes every decoded frame to exactly one of the Correlator or the EventBus.
type Receiver struct {
	logger     *slog.Logger
	codec      Codec
	correlator *Correlator
	bus        *EventBus
}

func NewReceiver(codec Codec, correlator *Correlator, bus *EventBus, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		logger:     logger,
		codec:      codec,
		correlator: correlator,
		bus:        bus,
	}
}

// eventQueueSize bounds the events read but not yet handed to the bus.
const eventQueueSize = 64

// Run reads sock until it fails or closes. Heartbeat events feed dog when it
// is not nil. Events are dispatched in arrival order on a separate goroutine
// so handlers may issue calls; Run does not wait for a dispatch in progress,
// and never reports the end of the socket as an error.
func (r *Receiver) Run(ctx context.Context, sock interfaces.Socket, dog *Watchdog) {
	events := make(chan json.RawMessage, eventQueueSize)
	defer close(events)
	go r.dispatchLoop(ctx, sock, events)

	r.logger.Info("Receiving loop started")
	defer r.logger.Info("Receiving loop stopped")

	for {
		msg, err := sock.Read()
		if err != nil {
			if !errors.Is(err, interfaces.ErrSocketClosed) {
				r.logger.Info("Socket read ended", "error", err)
			}
			return
		}

		if msg.Type != interfaces.MsgText {
			metrics.FramesReceivedTotal.WithLabelValues(metrics.FrameSkipped).Inc()
			r.logger.Warn("Skipping non-text frame", "type", msg.Type, "size", len(msg.Payload))
			continue
		}

		env, err := r.codec.Decode(msg.Payload)
		if err != nil {
			metrics.FramesReceivedTotal.WithLabelValues(metrics.FrameInvalid).Inc()
			r.logger.Error("Failed to decode frame",
				"error", err,
				"raw_data", string(msg.Payload),
			)
			continue
		}

		if env.Heartbeat && dog != nil {
			dog.Feed()
		}

		if env.HasEcho() {
			metrics.FramesReceivedTotal.WithLabelValues(metrics.FrameResponse).Inc()
			if !r.correlator.Resolve(env.Echo, env) {
				metrics.UnmatchedResponsesTotal.Inc()
				r.logger.Warn("Received response nobody is waiting for, caller may have timed out", "echo", env.Echo)
			}
			continue
		}

		metrics.FramesReceivedTotal.WithLabelValues(metrics.FrameEvent).Inc()
		// 队列满时阻塞读取，直到分发跟上或连接关闭
		select {
		case events <- env.Payload:
		case <-ctx.Done():
			return
		}
	}
}

// dispatchLoop hands queued events to the bus one at a time until events is
// closed and drained.
func (r *Receiver) dispatchLoop(ctx context.Context, sock interfaces.Socket, events <-chan json.RawMessage) {
	for event := range events {
		r.dispatch(ctx, sock, event)
	}
}

func (r *Receiver) dispatch(ctx context.Context, sock interfaces.Socket, event json.RawMessage) {
	reply, err := r.bus.Dispatch(ctx, event)
	if err != nil {
		r.logger.Error("Failed to dispatch event", "error", err, "event", string(event))
		return
	}
	if reply == nil {
		return
	}

	data, err := r.codec.Encode(QuickOperation(event, reply))
	if err != nil {
		r.logger.Error("Failed to encode quick reply", "error", err)
		return
	}
	if err := sock.Send(data, interfaces.MsgText); err != nil {
		r.logger.Error("Failed to send quick reply", "error", err)
		return
	}
	metrics.QuickRepliesTotal.Inc()
}
