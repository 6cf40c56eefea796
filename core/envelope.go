package core

import (
	"bytes"
	"encoding/json"
)

// Status 响应状态
type Status string

const (
	StatusOK     Status = "ok"
	StatusAsync  Status = "async"
	StatusFailed Status = "failed"
)

// QuickOperationAction is the action used to send a handler's quick reply
// back to the remote.
const QuickOperationAction = ".handle_quick_operation"

// Envelope is a decoded inbound frame. A frame with an Echo is a response to
// an earlier call; a frame without one is a pushed event.
type Envelope struct {
	Payload json.RawMessage
	Echo    string
	Status  Status
	RetCode int

	// Heartbeat is set by the codec for liveness events.
	Heartbeat bool
}

// HasEcho reports whether the envelope is correlated with a pending call.
func (e Envelope) HasEcho() bool {
	return e.Echo != ""
}

// Request is an outbound action. Echo is empty for fire-and-forget sends.
type Request struct {
	Action string
	Params any
	Echo   string
}

// QuickOperation wraps a handler result together with the event it answers.
func QuickOperation(event, operation json.RawMessage) Request {
	return Request{
		Action: QuickOperationAction,
		Params: map[string]json.RawMessage{
			"context":   event,
			"operation": operation,
		},
	}
}

// IsEmpty reports whether a handler result carries nothing worth sending.
func IsEmpty(v json.RawMessage) bool {
	trimmed := bytes.TrimSpace(v)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
