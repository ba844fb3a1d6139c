package websocket

import (
	"errors"
	"fmt"

	"github.com/wmdanor/wsclient/frame"
)

var (
	ErrTransport        = errors.New("transport error")
	ErrProtocol         = frame.ErrProtocol
	ErrHandshakeFailure = fmt.Errorf("%w: handshake failure", ErrProtocol)
	ErrTunnel           = errors.New("tunnel error")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrTimeout          = errors.New("timeout")
)

// ProtocolError is a protocol violation together with the close code that
// should be sent to the peer for it.
type ProtocolError struct {
	Code CloseCode
	Err  error
}

func newProtocolError(code CloseCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%d): %s", e.Code, e.Err.Error())
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrProtocol, e.Err}
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: [%w]", ErrTransport, op, err)
}
