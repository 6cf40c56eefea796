package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec translates between raw frames and envelopes.
type Codec interface {
	Encode(req Request) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

// JSONCodec implements the OneBot wire format: one JSON object per text frame.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

type wireRequest struct {
	Action string `json:"action"`
	Params any    `json:"params"`
	Echo   string `json:"echo,omitempty"`
}

type wireFrame struct {
	Status        *string         `json:"status"`
	RetCode       *int            `json:"retcode"`
	Data          json.RawMessage `json:"data"`
	Echo          json.RawMessage `json:"echo"`
	PostType      string          `json:"post_type"`
	MetaEventType string          `json:"meta_event_type"`
}

func (JSONCodec) Encode(req Request) ([]byte, error) {
	if req.Action == "" {
		return nil, fmt.Errorf("%w: empty action", ErrProtocolViolation)
	}
	params := req.Params
	if raw, ok := params.(json.RawMessage); params == nil || (ok && IsEmpty(raw)) {
		params = struct{}{}
	}
	data, err := json.Marshal(wireRequest{Action: req.Action, Params: params, Echo: req.Echo})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request %s: %w", req.Action, err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: frame is not a JSON object", ErrProtocolViolation)
	}
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	// Anything without a retcode is a pushed event.
	if frame.RetCode == nil {
		if frame.PostType == "" {
			return Envelope{}, fmt.Errorf("%w: event without post_type", ErrProtocolViolation)
		}
		return Envelope{
			Payload:   json.RawMessage(data),
			Heartbeat: frame.PostType == "meta_event" && frame.MetaEventType == "heartbeat",
		}, nil
	}

	echo, err := decodeEcho(frame.Echo)
	if err != nil {
		return Envelope{}, err
	}
	if echo == "" {
		return Envelope{}, fmt.Errorf("%w: response without echo", ErrProtocolViolation)
	}

	env := Envelope{
		Payload: frame.Data,
		Echo:    echo,
		RetCode: *frame.RetCode,
	}
	if frame.Status != nil {
		env.Status = Status(*frame.Status)
	}
	return env, nil
}

// decodeEcho accepts a string echo; numbers are tolerated since some
// implementations echo back whatever JSON value they received.
func decodeEcho(raw json.RawMessage) (string, error) {
	if IsEmpty(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: unsupported echo %s", ErrProtocolViolation, string(raw))
}
