package websocket

import (
	"encoding/binary"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/wmdanor/wsclient/frame"
)

type CloseCode uint16

// Close codes defined in RFC 6455, section 11.7.
const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseTLSHandshake            CloseCode = 1015
)

// Close reason must fit into a control frame next to the 2 byte code.
const maxCloseReason = frame.MaxControlPayload - 2

var (
	validCloseCodes []CloseCode = []CloseCode{
		CloseNormalClosure,
		CloseGoingAway,
		CloseProtocolError,
		CloseUnsupportedData,
		CloseInvalidFramePayloadData,
		ClosePolicyViolation,
		CloseMessageTooBig,
		CloseMandatoryExtension,
		CloseInternalServerErr,
		CloseServiceRestart,
		CloseTryAgainLater,
	}
)

func (c CloseCode) U() uint16 {
	return uint16(c)
}

func NewCloseCode(code uint16) (c CloseCode, ok bool) {
	c = CloseCode(code)
	ok = c.IsValid()
	return
}

// IsValid reports whether c may appear on the wire.
func (c CloseCode) IsValid() bool {
	return slices.Contains(validCloseCodes, c) || (c >= 3000 && c <= 4999)
}

func CloseMessageData(code CloseCode, message string) []byte {
	if code == CloseNoStatusReceived {
		return nil
	}

	b := make([]byte, 2, 2+len(message))
	binary.BigEndian.PutUint16(b, code.U())

	return append(b, message...)
}

// parseClosePayload splits a received close frame payload into its code and
// reason.
func parseClosePayload(payload []byte) (CloseCode, string, error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", newProtocolError(CloseProtocolError,
			"close frame must either have 0 or 2+ payload length, but received 1")
	}

	code, ok := NewCloseCode(binary.BigEndian.Uint16(payload))
	if !ok {
		return 0, "", newProtocolError(CloseProtocolError, "received invalid close code: %d", code)
	}

	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", newProtocolError(CloseInvalidFramePayloadData,
			"close frame reason in data must be valid UTF-8 encoded string")
	}

	return code, string(reason), nil
}

func validateCloseReason(reason string) error {
	if len(reason) > maxCloseReason {
		return fmt.Errorf("close reason must not exceed %d bytes, received %d", maxCloseReason, len(reason))
	}
	if !utf8.ValidString(reason) {
		return fmt.Errorf("close reason must be valid UTF-8")
	}
	return nil
}
