package core

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotEstablished = errors.New("connection not established")
	ErrTimeout                  = errors.New("timed out waiting for response")
	ErrAuthorizationRejected    = errors.New("authorization rejected")
	ErrProtocolViolation        = errors.New("protocol violation")
	ErrUnsupportedOperation     = errors.New("unsupported operation")
	ErrHandlerConflict          = errors.New("more than one handler returned a quick reply")
	ErrBusClosed                = errors.New("event bus closed")
)

// RetCodeUnsupported is the return code the remote uses for actions it does
// not implement.
const RetCodeUnsupported = 1404

// RemoteFailure is returned by Call when the remote answered with status
// "failed".
type RemoteFailure struct {
	Action  string
	RetCode int
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("action %s failed with retcode %d", e.Action, e.RetCode)
}

// Is lets errors.Is(err, ErrUnsupportedOperation) match the "not supported"
// return code.
func (e *RemoteFailure) Is(target error) bool {
	return target == ErrUnsupportedOperation && e.RetCode == RetCodeUnsupported
}
