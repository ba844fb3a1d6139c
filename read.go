package websocket

import (
	"errors"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
)

// messageHandler is what the deserializer reports decoded traffic to.
type messageHandler interface {
	// Close, ping and pong frames, as soon as they are decoded.
	handleControl(opcode frame.Opcode, payload []byte) error
	// Complete text and binary messages.
	handleMessage(mt MessageType, payload []byte) error
	// Returns where the binary message that is starting now must be streamed
	// to, or nil to deliver it through handleMessage.
	fileSink() fragmentWriter
}

type fragmentWriter interface {
	writeFragment(p []byte, fin bool) error
}

// pendingMessage is the fragmented message currently being reassembled.
// Only one can be in flight.
type pendingMessage struct {
	messageType MessageType
	data        []byte
	size        int64
	isFinal     bool

	// set when the message is streamed to a file instead of data
	sink fragmentWriter
}

// deserializer turns the inbound byte stream into frames and messages.
type deserializer struct {
	h messageHandler
	l *zap.Logger

	buf     []byte
	pending *pendingMessage

	maxMessageSize int64

	// set after a close frame, everything that follows is ignored
	closed bool
}

func newDeserializer(h messageHandler, maxMessageSize int64, l *zap.Logger) *deserializer {
	return &deserializer{
		h:              h,
		l:              l,
		maxMessageSize: maxMessageSize,
	}
}

// feed consumes a chunk of bytes read from the transport. Complete frames are
// dispatched right away, a trailing partial frame is kept until the next feed.
func (d *deserializer) feed(chunk []byte) error {
	if d.closed {
		return nil
	}

	d.buf = append(d.buf, chunk...)

	consumed := 0
	defer func() {
		// keep the partial tail at the start of buf
		n := copy(d.buf, d.buf[consumed:])
		d.buf = d.buf[:n]
	}()

	for !d.closed {
		f, n, err := frame.Decode(d.buf[consumed:])
		if errors.Is(err, frame.ErrNeedMoreData) {
			// a single frame may not be larger than a whole message, even one
			// streamed to a file, since the frame is buffered whole
			if int64(len(d.buf)-consumed) > d.maxMessageSize+frame.MaxHeaderSize {
				return newProtocolError(CloseMessageTooBig, "frame exceeds %d bytes", d.maxMessageSize)
			}
			return nil
		}
		if err != nil {
			return &ProtocolError{Code: CloseProtocolError, Err: err}
		}
		consumed += n

		framesReceived.WithLabelValues(f.Opcode.String()).Inc()

		err = d.dispatch(&f)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *deserializer) dispatch(f *frame.Frame) error {
	if f.Masked {
		return newProtocolError(CloseProtocolError, "received masked frame on the client")
	}

	d.l.Debug("received frame",
		zap.Stringer("opcode", f.Opcode),
		zap.Bool("fin", f.FIN),
		zap.Int("payloadLength", len(f.Payload)))

	if f.IsControlFrame() {
		if f.Opcode == frame.OpcodeConnectionClose {
			d.closed = true
		}
		return d.h.handleControl(f.Opcode, f.Payload)
	}

	if f.IsContinuationFrame() {
		if d.pending == nil {
			return newProtocolError(CloseProtocolError, "received continuation frame without a message to continue")
		}
		return d.appendFragment(f.Payload, f.FIN)
	}

	if d.pending != nil {
		return newProtocolError(CloseProtocolError,
			"received new %s message while a fragmented message is in flight", f.Opcode)
	}
	return d.start(f)
}

func (d *deserializer) start(f *frame.Frame) error {
	m := &pendingMessage{messageType: MessageType(f.Opcode)}
	if m.messageType == BinaryMessage {
		m.sink = d.h.fileSink()
	}
	d.pending = m

	return d.appendFragment(f.Payload, f.FIN)
}

func (d *deserializer) appendFragment(p []byte, fin bool) error {
	m := d.pending
	m.isFinal = fin

	if m.sink != nil {
		if fin {
			d.pending = nil
		}
		return m.sink.writeFragment(p, fin)
	}

	m.size += int64(len(p))
	if m.size > d.maxMessageSize {
		return newProtocolError(CloseMessageTooBig,
			"message exceeds %d bytes", d.maxMessageSize)
	}
	m.data = append(m.data, p...)

	if !fin {
		return nil
	}

	d.pending = nil

	if m.messageType == TextMessage && !utf8.Valid(m.data) {
		return newProtocolError(CloseInvalidFramePayloadData, "received invalid UTF-8 data")
	}

	data := m.data
	if data == nil {
		data = []byte{}
	}
	return d.h.handleMessage(m.messageType, data)
}

// abort drops any partially received message.
func (d *deserializer) abort() {
	d.pending = nil
	d.buf = nil
	d.closed = true
}
