// Package packet implements SRT's wire packet codec: the 16-byte header
// plus either a data payload or a control body. Framing decodes the
// header into a Header struct, with a data/control discriminator bit in
// place of a flags byte.
package packet

import "github.com/srtlab/srtgo/seq"

// HeaderSize is the fixed size of an SRT packet header, four 32-bit words.
const HeaderSize = 16

// MaxPayload is the largest payload a data packet may carry, derived from
// a 1500-byte MTU minus IP (20), UDP (8) and the 16-byte SRT header.
const MaxPayload = 1500 - 20 - 8 - HeaderSize

// controlBit is the high bit of header word 0 distinguishing control
// packets (1) from data packets (0).
const controlBit = uint32(1) << 31

// ControlType enumerates SRT control packet types.
type ControlType uint16

const (
	CtrlHandshake          ControlType = 0
	CtrlKeepAlive          ControlType = 1
	CtrlAck                ControlType = 2
	CtrlNak                ControlType = 3
	CtrlCongestionWarning  ControlType = 4
	CtrlShutdown           ControlType = 5
	CtrlAckAck             ControlType = 6
	CtrlDropReq            ControlType = 7
	CtrlPeerError          ControlType = 8
	CtrlUserDefined        ControlType = 0x7FFF
)

// String names a control type, or "unknown" for unrecognized codes.
func (t ControlType) String() string {
	switch t {
	case CtrlHandshake:
		return "handshake"
	case CtrlKeepAlive:
		return "keepalive"
	case CtrlAck:
		return "ack"
	case CtrlNak:
		return "nak"
	case CtrlCongestionWarning:
		return "congestion-warning"
	case CtrlShutdown:
		return "shutdown"
	case CtrlAckAck:
		return "ackack"
	case CtrlDropReq:
		return "dropreq"
	case CtrlPeerError:
		return "peererror"
	case CtrlUserDefined:
		return "user-defined"
	default:
		return "unknown"
	}
}

// parseControlType maps a 15-bit wire code to a ControlType, failing for
// codes with no defined meaning.
func parseControlType(code uint16) (ControlType, error) {
	switch ControlType(code) {
	case CtrlHandshake, CtrlKeepAlive, CtrlAck, CtrlNak, CtrlCongestionWarning,
		CtrlShutdown, CtrlAckAck, CtrlDropReq, CtrlPeerError, CtrlUserDefined:
		return ControlType(code), nil
	default:
		return 0, &InvalidControlType{Code: code}
	}
}

// Boundary identifies a data packet's role inside a multi-packet message
// (MsgNumber bits 30-31).
type Boundary uint8

const (
	BoundarySubsequent Boundary = iota
	BoundaryLast
	BoundaryFirst
	BoundarySolo
)

// EncKeySpec identifies the encryption key used for a packet, if any
// (MsgNumber bits 27-28).
type EncKeySpec uint8

const (
	EncNone EncKeySpec = iota
	EncEven
	EncOdd
)

const (
	msgBoundaryShift  = 30
	msgInOrderShift   = 29
	msgEncKeyShift    = 27
	msgRetransmitBit  = 1 << 26
	msgSeqMask        = 1<<26 - 1
)

// MsgNumber is the packed 32-bit field carried in header word 1 of a data
// packet: boundary, in-order flag, encryption key spec, retransmit flag,
// and a 26-bit message sequence, all bit-packed the way SRT's UDT
// ancestor defines them.
type MsgNumber uint32

// NewMsgNumber packs the given fields into a MsgNumber.
func NewMsgNumber(b Boundary, inOrder bool, enc EncKeySpec, retransmit bool, msgSeq uint32) MsgNumber {
	v := uint32(b)<<msgBoundaryShift | uint32(enc)<<msgEncKeyShift | (msgSeq & msgSeqMask)
	if inOrder {
		v |= 1 << msgInOrderShift
	}
	if retransmit {
		v |= msgRetransmitBit
	}
	return MsgNumber(v)
}

// Boundary returns the packet's message-boundary role.
func (m MsgNumber) Boundary() Boundary { return Boundary(uint32(m) >> msgBoundaryShift & 0x3) }

// InOrder reports whether the in-order delivery flag is set.
func (m MsgNumber) InOrder() bool { return uint32(m)>>msgInOrderShift&1 != 0 }

// EncKeySpec returns the encryption key spec field.
func (m MsgNumber) EncKeySpec() EncKeySpec { return EncKeySpec(uint32(m) >> msgEncKeyShift & 0x3) }

// Retransmitted reports whether the retransmit flag is set.
func (m MsgNumber) Retransmitted() bool { return uint32(m)&msgRetransmitBit != 0 }

// MsgSeq returns the 26-bit message sequence number shared by every data
// packet of a given message.
func (m MsgNumber) MsgSeq() uint32 { return uint32(m) & msgSeqMask }

// WithRetransmit returns a copy of m with the retransmit flag set.
func (m MsgNumber) WithRetransmit() MsgNumber { return m | MsgNumber(msgRetransmitBit) }

// Header is the decoded form of an SRT packet's 16-byte header.
type Header struct {
	// IsControl distinguishes a control header from a data header.
	IsControl bool

	// Data-packet fields (valid when !IsControl).
	Seq seq.Number

	// Control-packet fields (valid when IsControl).
	Type       ControlType
	TypeInfo   uint16 // type-specific bits 0-15 of word 0.

	// MsgOrInfo is MsgNumber for a data header, or additional info for a
	// control header.
	MsgOrInfo uint32

	// Timestamp is microseconds since the connection's reference time,
	// wrapping at 2^32.
	Timestamp uint32

	// DestSocketID identifies the destination socket.
	DestSocketID uint32
}

// MsgNumber interprets the header's MsgOrInfo field as a data packet's
// MsgNumber. Only meaningful when !IsControl.
func (h Header) MsgNumber() MsgNumber { return MsgNumber(h.MsgOrInfo) }

// DataPacket is a data packet: a data-form header plus payload.
// Invariant: len(Payload) <= MaxPayload.
type DataPacket struct {
	Header  Header
	Payload []byte
}

// ControlPacket is a control packet: a control-form header plus an
// opaque, type-specific body. Typed accessors for each control type live
// alongside their generator/parser in this package (Ack, Nak, Handshake).
type ControlPacket struct {
	Header Header
	Body   []byte
}
