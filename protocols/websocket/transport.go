// protocols/websocket/transport.go
package websocket

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/lisuiheng/onebot-go/pkg/interfaces"
)

const writeWait = 10 * time.Second

var _ interfaces.Socket = (*socket)(nil)

// socket adapts a gorilla connection. gorilla allows one concurrent writer,
// so writes are serialised by mu.
type socket struct {
	conn   *gorilla.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newSocket(conn *gorilla.Conn) *socket {
	return &socket{conn: conn}
}

func (s *socket) Read() (interfaces.Message, error) {
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		if s.closed.Load() || gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
			return interfaces.Message{}, fmt.Errorf("%w: %v", interfaces.ErrSocketClosed, err)
		}
		return interfaces.Message{}, err
	}
	return interfaces.Message{
		Payload: data,
		Type:    convertMsgType(msgType),
	}, nil
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case gorilla.TextMessage:
		return interfaces.MsgText
	case gorilla.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (s *socket) Send(data []byte, msgType interfaces.MessageType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return interfaces.ErrSocketClosed
	}

	wsType := gorilla.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = gorilla.BinaryMessage
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(wsType, data)
}

// Close sends a normal-closure frame carrying reason and closes the
// connection. Only the first call has an effect.
func (s *socket) Close(reason string) error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	message := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, reason)
	_ = s.conn.WriteControl(gorilla.CloseMessage, message, time.Now().Add(time.Second))
	s.mu.Unlock()

	return s.conn.Close()
}
