package core

import (
	"encoding/json"
	"sync"

	"github.com/lisuiheng/onebot-go/pkg/interfaces"
)

// fakeSocket is an in-memory interfaces.Socket. Tests push frames into
// inbound and read what was written from sent.
type fakeSocket struct {
	inbound chan interfaces.Message
	sent    chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan interfaces.Message, 16),
		sent:    make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeSocket) Read() (interfaces.Message, error) {
	select {
	case m := <-f.inbound:
		return m, nil
	case <-f.closed:
		return interfaces.Message{}, interfaces.ErrSocketClosed
	}
}

func (f *fakeSocket) Send(data []byte, _ interfaces.MessageType) error {
	select {
	case <-f.closed:
		return interfaces.ErrSocketClosed
	default:
	}
	f.sent <- data
	return nil
}

func (f *fakeSocket) Close(string) error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) push(frame string) {
	f.inbound <- interfaces.Message{Payload: []byte(frame), Type: interfaces.MsgText}
}

type staticSource struct {
	sock interfaces.Socket
}

func (s staticSource) CurrentSocket() interfaces.Socket {
	return s.sock
}

type sentRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   string          `json:"echo"`
}

func decodeSent(data []byte) sentRequest {
	var req sentRequest
	_ = json.Unmarshal(data, &req)
	return req
}
