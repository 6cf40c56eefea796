// Package metrics provides Prometheus metrics for the onebot transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame kinds used as the "kind" label of FramesReceivedTotal.
const (
	FrameResponse = "response"
	FrameEvent    = "event"
	FrameInvalid  = "invalid"
	FrameSkipped  = "skipped"
)

// Call outcomes used as the "outcome" label of CallsTotal.
const (
	CallOK             = "ok"
	CallAsync          = "async"
	CallFailed         = "failed"
	CallTimeout        = "timeout"
	CallNotEstablished = "not_established"
	CallViolation      = "protocol_violation"
	CallWriteError     = "write_error"
)

var (
	// FramesReceivedTotal counts inbound frames by routing kind.
	FramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onebot_frames_received_total",
		Help: "Total number of inbound frames, by kind (response/event/invalid/skipped).",
	}, []string{"kind"})

	// UnmatchedResponsesTotal counts responses whose echo had no waiter.
	UnmatchedResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onebot_unmatched_responses_total",
		Help: "Total number of responses received after their caller stopped waiting.",
	})

	// QuickRepliesTotal counts quick replies written back to the remote.
	QuickRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onebot_quick_replies_total",
		Help: "Total number of quick replies sent in response to pushed events.",
	})

	// HandlerErrorsTotal counts handler failures by reason (error/conflict).
	HandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onebot_handler_errors_total",
		Help: "Total number of event handler failures, by reason.",
	}, []string{"reason"})

	// CallsTotal counts request/response calls by outcome.
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onebot_calls_total",
		Help: "Total number of calls issued, by outcome.",
	}, []string{"outcome"})

	// CallDuration observes how long successful round trips took.
	CallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "onebot_call_duration_seconds",
		Help:    "Round trip latency of calls that received a response.",
		Buckets: prometheus.DefBuckets,
	})

	// PendingCalls tracks calls currently awaiting a response.
	PendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onebot_pending_calls",
		Help: "Current number of calls awaiting a response.",
	})

	// StateTransitionsTotal counts connection state changes by topology and target state.
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onebot_state_transitions_total",
		Help: "Total number of connection state transitions, by topology and new state.",
	}, []string{"topology", "state"})

	// ConnectAttemptsTotal counts outbound dial attempts by result.
	ConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onebot_connect_attempts_total",
		Help: "Total number of outbound connection attempts, by result (success/failure).",
	}, []string{"result"})

	// AuthorizationRejectsTotal counts rejected reverse handshakes by outcome.
	AuthorizationRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onebot_authorization_rejects_total",
		Help: "Total number of rejected inbound handshakes, by reason.",
	}, []string{"reason"})

	// WatchdogTimeoutsTotal counts forced disconnects after missed heartbeats.
	WatchdogTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onebot_watchdog_timeouts_total",
		Help: "Total number of connections dropped because no heartbeat arrived in time.",
	})
)
