// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrSocketClosed     = errors.New("socket closed")
)

// Socket is a single live, message-framed connection to the remote
// implementation. Read is only ever called from one goroutine; Send must be
// safe for concurrent use.
type Socket interface {
	Read() (Message, error)
	Send(data []byte, msgType MessageType) error
	Close(reason string) error
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON文本
	MsgBinary                     // 二进制数据
	MsgControl                    // 控制帧
)

func (t MessageType) String() string {
	switch t {
	case MsgText:
		return "text"
	case MsgBinary:
		return "binary"
	default:
		return "control"
	}
}

// SocketSource hands out the currently established socket, or nil.
type SocketSource interface {
	CurrentSocket() Socket
}

// Handler receives a pushed event and may return a quick reply. An empty or
// null result means "no reply".
type Handler func(ctx context.Context, event json.RawMessage) (json.RawMessage, error)

// HandlerID identifies a registered Handler.
type HandlerID string

// Connection is implemented by both the outbound client and the reverse server.
type Connection interface {
	SocketSource
	Start() error
	Disconnect(reason string) error
	Close() error
	RegisterHandler(h Handler) (HandlerID, error)
	UnregisterHandler(id HandlerID) bool
	Call(ctx context.Context, action string, params any) (Result, error)
	Send(action string, params any) error
}

// Result is the outcome of a successful call. Async is set when the remote
// accepted the action without an immediate result.
type Result struct {
	Data  json.RawMessage
	Async bool
}
