package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/wmdanor/wsclient/frame"
)

type MessageType uint8

const (
	// Non-control
	TextMessage   MessageType = MessageType(frame.OpcodeTextFrame)
	BinaryMessage MessageType = MessageType(frame.OpcodeBinaryFrame)

	// Control
	CloseMessage MessageType = MessageType(frame.OpcodeConnectionClose)
	PingMessage  MessageType = MessageType(frame.OpcodePing)
	PongMessage  MessageType = MessageType(frame.OpcodePong)
)

func (mt MessageType) String() string {
	return frame.Opcode(mt).String()
}

// A file transfer is announced by a text message made of fileMarkerPrefix and
// a JSON encoded fileMarker. The binary message that follows carries the file.
const fileMarkerPrefix = "\x00wsfile/1 "

type fileMarker struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func encodeFileMarker(m fileMarker) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode file marker: [%w]", err)
	}
	return append([]byte(fileMarkerPrefix), b...), nil
}

// parseFileMarker reports ok=false for ordinary text messages.
func parseFileMarker(text []byte) (m fileMarker, ok bool, err error) {
	rest, found := bytes.CutPrefix(text, []byte(fileMarkerPrefix))
	if !found {
		return fileMarker{}, false, nil
	}

	err = json.Unmarshal(rest, &m)
	if err != nil {
		return fileMarker{}, true, newProtocolError(CloseInvalidFramePayloadData, "malformed file marker: [%w]", err)
	}

	name := filepath.Base(m.Name)
	if name == "." || name == ".." || name == string(filepath.Separator) || m.Name == "" {
		return fileMarker{}, true, newProtocolError(CloseInvalidFramePayloadData, "file marker has invalid name %q", m.Name)
	}
	m.Name = name

	return m, true, nil
}
