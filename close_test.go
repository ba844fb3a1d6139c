package websocket

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClosePayload(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
		code    CloseCode
		reason  string
		errCode CloseCode
	}{
		{"empty", nil, CloseNoStatusReceived, "", 0},
		{"code only", CloseMessageData(CloseGoingAway, ""), CloseGoingAway, "", 0},
		{"code and reason", CloseMessageData(CloseNormalClosure, "bye"), CloseNormalClosure, "bye", 0},
		{"application code", CloseMessageData(CloseCode(4001), "app"), CloseCode(4001), "app", 0},
		{"one byte", []byte{0x03}, 0, "", CloseProtocolError},
		{"reserved code", CloseMessageData(CloseNoStatusReceived+1, ""), 0, "", CloseProtocolError},
		{"code 1005 on the wire", []byte{0x03, 0xED}, 0, "", CloseProtocolError},
		{"invalid utf8 reason", append(CloseMessageData(CloseNormalClosure, ""), 0xff), 0, "", CloseInvalidFramePayloadData},
	}

	for _, tc := range testCases {
		code, reason, err := parseClosePayload(tc.payload)

		if tc.errCode != 0 {
			var pe *ProtocolError
			if !errors.As(err, &pe) || pe.Code != tc.errCode {
				t.Errorf("parseClosePayload(%s) error = %v, ERROR expected protocol error %d", tc.name, err, tc.errCode)
			}
			continue
		}

		if err != nil {
			t.Errorf("parseClosePayload(%s), ERROR returned unexpected error %q", tc.name, err.Error())
			continue
		}
		if code != tc.code || reason != tc.reason {
			t.Errorf("parseClosePayload(%s) = (%d, %q), ERROR expected (%d, %q)", tc.name, code, reason, tc.code, tc.reason)
		} else {
			t.Logf("parseClosePayload(%s) = (%d, %q), OK", tc.name, code, reason)
		}
	}
}

func TestCloseMessageData(t *testing.T) {
	b := CloseMessageData(CloseNormalClosure, "bye")
	expected := []byte{0x03, 0xE8, 'b', 'y', 'e'}
	if string(b) != string(expected) {
		t.Errorf("CloseMessageData(1000, \"bye\") = %v, ERROR expected %v", b, expected)
	}

	if b := CloseMessageData(CloseNoStatusReceived, "ignored"); len(b) != 0 {
		t.Errorf("CloseMessageData(1005) = %v, ERROR expected empty payload", b)
	}
}

func TestValidateCloseReason(t *testing.T) {
	if err := validateCloseReason(strings.Repeat("a", maxCloseReason)); err != nil {
		t.Errorf("validateCloseReason(%d bytes), ERROR returned unexpected error %q", maxCloseReason, err.Error())
	}
	if err := validateCloseReason(strings.Repeat("a", maxCloseReason+1)); err == nil {
		t.Errorf("validateCloseReason(%d bytes), ERROR expected error", maxCloseReason+1)
	}
	if err := validateCloseReason("\xff"); err == nil {
		t.Errorf("validateCloseReason(invalid utf8), ERROR expected error")
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := [][2]State{
		{StateIdle, StateTunnelConnecting},
		{StateTunnelConnecting, StateHandshaking},
		{StateHandshaking, StateOpen},
		{StateOpen, StateClosing},
		{StateClosing, StateClosed},
		{StateOpen, StateClosed},
		{StateOpen, StateFailed},
		{StateHandshaking, StateFailed},
		{StateClosed, StateTunnelConnecting},
		{StateFailed, StateTunnelConnecting},
	}
	for _, tr := range allowed {
		if !canTransition(tr[0], tr[1]) {
			t.Errorf("canTransition(%s, %s) = false, ERROR expected true", tr[0], tr[1])
		}
	}

	forbidden := [][2]State{
		{StateIdle, StateOpen},
		{StateTunnelConnecting, StateOpen},
		{StateOpen, StateHandshaking},
		{StateClosing, StateOpen},
		{StateClosed, StateFailed},
		{StateFailed, StateClosed},
		{StateIdle, StateFailed},
	}
	for _, tr := range forbidden {
		if canTransition(tr[0], tr[1]) {
			t.Errorf("canTransition(%s, %s) = true, ERROR expected false", tr[0], tr[1])
		}
	}
}
