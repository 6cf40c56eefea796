package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lisuiheng/onebot-go/metrics"
	"github.com/lisuiheng/onebot-go/pkg/interfaces"
)

// Requester issues actions over whatever socket its source currently holds.
type Requester struct {
	logger     *slog.Logger
	codec      Codec
	correlator *Correlator
	sockets    interfaces.SocketSource
	timeout    time.Duration
}

func NewRequester(codec Codec, correlator *Correlator, sockets interfaces.SocketSource, timeout time.Duration, logger *slog.Logger) *Requester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		logger:     logger,
		codec:      codec,
		correlator: correlator,
		sockets:    sockets,
		timeout:    timeout,
	}
}

// Call sends action and waits for the matching response, up to the
// configured response timeout or until ctx is done.
func (r *Requester) Call(ctx context.Context, action string, params any) (interfaces.Result, error) {
	sock := r.sockets.CurrentSocket()
	if sock == nil {
		metrics.CallsTotal.WithLabelValues(metrics.CallNotEstablished).Inc()
		return interfaces.Result{}, ErrConnectionNotEstablished
	}

	echo, slot := r.correlator.Register()
	data, err := r.codec.Encode(Request{Action: action, Params: params, Echo: echo})
	if err != nil {
		r.correlator.Cancel(echo)
		return interfaces.Result{}, err
	}

	start := time.Now()
	r.logger.Debug("Sending call", "action", action, "echo", echo)
	if err := sock.Send(data, interfaces.MsgText); err != nil {
		r.correlator.Cancel(echo)
		metrics.CallsTotal.WithLabelValues(metrics.CallWriteError).Inc()
		return interfaces.Result{}, fmt.Errorf("failed to send %s: %w", action, err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case env := <-slot:
		metrics.CallDuration.Observe(time.Since(start).Seconds())
		return r.interpret(action, env)
	case <-timer.C:
		r.correlator.Cancel(echo)
		metrics.CallsTotal.WithLabelValues(metrics.CallTimeout).Inc()
		r.logger.Warn("Call timed out", "action", action, "echo", echo, "timeout", r.timeout)
		return interfaces.Result{}, fmt.Errorf("%w: %s after %s", ErrTimeout, action, r.timeout)
	case <-ctx.Done():
		r.correlator.Cancel(echo)
		return interfaces.Result{}, ctx.Err()
	}
}

func (r *Requester) interpret(action string, env Envelope) (interfaces.Result, error) {
	switch env.Status {
	case StatusOK:
		metrics.CallsTotal.WithLabelValues(metrics.CallOK).Inc()
		return interfaces.Result{Data: env.Payload}, nil
	case StatusAsync:
		metrics.CallsTotal.WithLabelValues(metrics.CallAsync).Inc()
		return interfaces.Result{Async: true}, nil
	case StatusFailed:
		metrics.CallsTotal.WithLabelValues(metrics.CallFailed).Inc()
		return interfaces.Result{}, &RemoteFailure{Action: action, RetCode: env.RetCode}
	default:
		metrics.CallsTotal.WithLabelValues(metrics.CallViolation).Inc()
		return interfaces.Result{}, fmt.Errorf("%w: unknown status %q for %s", ErrProtocolViolation, env.Status, action)
	}
}

// Send writes action without waiting for, or correlating, a response.
func (r *Requester) Send(action string, params any) error {
	sock := r.sockets.CurrentSocket()
	if sock == nil {
		return ErrConnectionNotEstablished
	}
	data, err := r.codec.Encode(Request{Action: action, Params: params})
	if err != nil {
		return err
	}
	if err := sock.Send(data, interfaces.MsgText); err != nil {
		return fmt.Errorf("failed to send %s: %w", action, err)
	}
	return nil
}
