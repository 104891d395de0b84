package channel

import (
	"encoding/binary"
	"fmt"
)

// Version is the only wire envelope version this implementation emits or
// accepts.
const Version byte = 0x01

// MsgType identifies the payload carried by one envelope.
type MsgType byte

const (
	MsgRequestChannel MsgType = 0x01
	MsgKeyAgreementM2 MsgType = 0x02
	MsgKeyAgreementM3 MsgType = 0x03
	MsgPayload        MsgType = 0x10
	MsgPing           MsgType = 0x20
)

func (t MsgType) String() string {
	switch t {
	case MsgRequestChannel:
		return "REQUEST_CHANNEL"
	case MsgKeyAgreementM2:
		return "KEY_AGREEMENT_M2"
	case MsgKeyAgreementM3:
		return "KEY_AGREEMENT_M3"
	case MsgPayload:
		return "PAYLOAD"
	case MsgPing:
		return "PING"
	default:
		return fmt.Sprintf("MsgType(0x%02x)", byte(t))
	}
}

// envelope is the fixed header every frame carries: version, a single
// onward-route byte and a single return-route byte (routing through
// further hops is out of scope, so both must be zero), a message type,
// and a big-endian body length followed by that many body bytes. The
// length field is 15 bits wide; the high bit is reserved and must be zero.
type envelope struct {
	msgType MsgType
	body    []byte
}

const envelopeHeaderLen = 1 /*version*/ + 1 /*onward*/ + 1 /*return*/ + 1 /*msgType*/ + 2 /*bodyLen*/

// MaxFrame is the largest body one frame may carry, bounded by the 15-bit
// wire length field.
const MaxFrame = 1<<15 - 1

// MaxPayload is the largest plaintext Send accepts: one frame body minus
// the 16-byte AEAD tag appended in transport mode.
const MaxPayload = MaxFrame - 16

func encodeEnvelope(e envelope) []byte {
	out := make([]byte, envelopeHeaderLen+len(e.body))
	out[0] = Version
	out[1] = 0 // onward_route
	out[2] = 0 // return_route
	out[3] = byte(e.msgType)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(e.body)))
	copy(out[6:], e.body)
	return out
}

// decodeEnvelopeHeader parses the fixed-size header portion of a frame and
// returns the message type and expected body length. ErrRouteUnsupported
// is returned if either route byte is non-zero; ErrProtocolViolation for
// any other structural defect (bad version, short buffer, reserved length
// bit set).
func decodeEnvelopeHeader(header []byte) (MsgType, int, error) {
	if len(header) < envelopeHeaderLen {
		return 0, 0, fmt.Errorf("%w: short header", ErrProtocolViolation)
	}
	if header[0] != Version {
		return 0, 0, fmt.Errorf("%w: unsupported version 0x%02x", ErrProtocolViolation, header[0])
	}
	if header[1] != 0 || header[2] != 0 {
		return 0, 0, fmt.Errorf("%w: non-zero route byte", ErrRouteUnsupported)
	}
	bodyLen := binary.BigEndian.Uint16(header[4:6])
	if bodyLen > MaxFrame {
		return 0, 0, fmt.Errorf("%w: reserved length bit set", ErrProtocolViolation)
	}
	return MsgType(header[3]), int(bodyLen), nil
}
