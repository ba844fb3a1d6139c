package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/wmdanor/wsclient/internal"
)

/*
  0                   1                   2                   3
  0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
 +-+-+-+-+-------+-+-------------+-------------------------------+
 |F|R|R|R| opcode|M| Payload len |    Extended payload length    |
 |I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
 |N|V|V|V|       |S|             |   (if payload len==126/127)   |
 | |1|2|3|       |K|             |                               |
 +-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
 |     Extended payload length continued, if payload len == 127  |
 + - - - - - - - - - - - - - - - +-------------------------------+
 |                               |Masking-key, if MASK set to 1  |
 +-------------------------------+-------------------------------+
 | Masking-key (continued)       |          Payload Data         |
 +-------------------------------- - - - - - - - - - - - - - - - +
 :                     Payload Data continued ...                :
 + - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - - +
 |                     Payload Data continued ...                |
 +---------------------------------------------------------------+
*/

var (
	// Returned by Decode when buf does not hold a whole frame yet. Nothing is consumed.
	ErrNeedMoreData = errors.New("need more data")
	ErrProtocol     = errors.New("protocol error")
)

const (
	// Largest payload a control frame may carry.
	MaxControlPayload = 125

	// 2 fixed bytes + 8 bytes extended length + 4 bytes masking key
	MaxHeaderSize = 14
)

type Frame struct {
	// is the final fragment in a message
	FIN bool

	// must be false unless an extension has been negotiated
	RSV1 bool
	RSV2 bool
	RSV3 bool

	// 4 bits
	Opcode Opcode

	Masked bool
	// meaningful only when Masked
	MaskingKey [4]byte

	// Application data, always unmasked
	Payload []byte
}

type Opcode uint8

const (
	OpcodeContinuationFrame Opcode = iota
	OpcodeTextFrame
	OpcodeBinaryFrame
	OpcodeNonControlFrame1
	OpcodeNonControlFrame2
	OpcodeNonControlFrame3
	OpcodeNonControlFrame4
	OpcodeNonControlFrame5
	OpcodeConnectionClose
	OpcodePing
	OpcodePong
	OpcodeControlFrame1
	OpcodeControlFrame2
	OpcodeControlFrame3
	OpcodeControlFrame4
	OpcodeControlFrame5
)

func (c Opcode) IsControl() bool {
	return c == OpcodeConnectionClose || c == OpcodePing || c == OpcodePong
}

func (c Opcode) IsData() bool {
	return c == OpcodeContinuationFrame || c == OpcodeTextFrame || c == OpcodeBinaryFrame
}

func (c Opcode) IsReserved() bool {
	return !c.IsControl() && !c.IsData()
}

func (c Opcode) String() string {
	switch c {
	case OpcodeContinuationFrame:
		return "continuation"
	case OpcodeTextFrame:
		return "text"
	case OpcodeBinaryFrame:
		return "binary"
	case OpcodeConnectionClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(%X)", uint8(c))
	}
}

type PayloadLengthType uint8

const (
	// 0-125, first 7 bits represent length as is
	PayloadLengthTypeShort PayloadLengthType = iota
	// 126-2^16-1, first 7 bits = 126, next 16 bits represent length
	PayloadLengthTypeMedium
	// 2^16-2^63-1, first 7 bits = 127, next 64 bits represent length
	PayloadLengthTypeHigh
)

func PayloadLengthTypeOf(l uint64) PayloadLengthType {
	switch {
	case l <= 125:
		return PayloadLengthTypeShort
	case l <= math.MaxUint16:
		return PayloadLengthTypeMedium
	default:
		return PayloadLengthTypeHigh
	}
}

// Size of the extended payload length field that follows the 7 bit indicator.
func (t PayloadLengthType) ExtensionBytesSize() int {
	switch t {
	case PayloadLengthTypeMedium:
		return 2
	case PayloadLengthTypeHigh:
		return 8
	default:
		return 0
	}
}

// Encode builds a wire-ready client frame masked with a fresh random key.
// payload is not modified.
func Encode(payload []byte, opcode Opcode, fin bool) []byte {
	return EncodeWithKey(payload, opcode, fin, internal.NewMaskingKey())
}

func EncodeWithKey(payload []byte, opcode Opcode, fin bool, key [4]byte) []byte {
	f := Frame{
		FIN:        fin,
		Opcode:     opcode,
		Masked:     true,
		MaskingKey: key,
		Payload:    payload,
	}
	return f.AppendTo(make([]byte, 0, MaxHeaderSize+len(payload)))
}

// AppendTo appends the wire form of f to dst. When f.Masked the payload
// bytes are masked in the appended copy only.
func (f *Frame) AppendTo(dst []byte) []byte {
	var b0, b1 byte

	if f.FIN {
		b0 = b0 | 0b1_000_0000
	}
	if f.RSV1 {
		b0 = b0 | 0b0_100_0000
	}
	if f.RSV2 {
		b0 = b0 | 0b0_010_0000
	}
	if f.RSV3 {
		b0 = b0 | 0b0_001_0000
	}
	b0 = b0 | byte(f.Opcode)&0b0_000_1111

	if f.Masked {
		b1 = b1 | 0b1_000_0000
	}

	l := uint64(len(f.Payload))
	switch PayloadLengthTypeOf(l) {
	case PayloadLengthTypeShort:
		dst = append(dst, b0, b1|byte(l))
	case PayloadLengthTypeMedium:
		dst = append(dst, b0, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(l))
	default:
		dst = append(dst, b0, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, l)
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}

	dst = append(dst, f.MaskingKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	internal.Mask(dst[start:], f.MaskingKey)

	return dst
}

// Decode parses the first frame in buf and reports how many bytes it took.
// If buf holds only part of a frame it returns ErrNeedMoreData and consumes
// nothing, so the caller can retry once more bytes arrive.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrNeedMoreData
	}
	b0, b1 := buf[0], buf[1]

	f := Frame{}
	f.FIN = b0&0b1_000_0000 != 0
	f.RSV1 = b0&0b0_100_0000 != 0
	f.RSV2 = b0&0b0_010_0000 != 0
	f.RSV3 = b0&0b0_001_0000 != 0
	f.Opcode = Opcode(b0 & 0b0_000_1111)

	if f.RSV1 || f.RSV2 || f.RSV3 {
		return Frame{}, 0, fmt.Errorf("%w: RSV bits must be 0 as extensions are not supported", ErrProtocol)
	}
	if f.Opcode.IsReserved() {
		return Frame{}, 0, fmt.Errorf("%w: opcode %X is reserved", ErrProtocol, uint8(f.Opcode))
	}

	f.Masked = b1&0b1_000_0000 != 0
	payloadLength := uint64(b1 & 0b0_111_1111)
	offset := 2

	switch payloadLength {
	case 126:
		if len(buf) < offset+2 {
			return Frame{}, 0, ErrNeedMoreData
		}
		payloadLength = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return Frame{}, 0, ErrNeedMoreData
		}
		payloadLength = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		if payloadLength&(1<<63) != 0 {
			return Frame{}, 0, fmt.Errorf("%w: most significant bit of 64 bit payload length must be 0", ErrProtocol)
		}
	}

	if f.Opcode.IsControl() {
		if payloadLength > MaxControlPayload {
			return Frame{}, 0, fmt.Errorf("%w: control frame payload length %d exceeds %d",
				ErrProtocol, payloadLength, MaxControlPayload)
		}
		if !f.FIN {
			return Frame{}, 0, fmt.Errorf("%w: control frames must not be fragmented", ErrProtocol)
		}
	}

	if f.Masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, ErrNeedMoreData
		}
		copy(f.MaskingKey[:], buf[offset:offset+4])
		offset += 4
	}

	if uint64(len(buf)-offset) < payloadLength {
		return Frame{}, 0, ErrNeedMoreData
	}
	end := offset + int(payloadLength)

	f.Payload = make([]byte, payloadLength)
	copy(f.Payload, buf[offset:end])
	if f.Masked {
		internal.Mask(f.Payload, f.MaskingKey)
	}

	return f, end, nil
}
