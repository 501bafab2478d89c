package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/srtlab/srtgo/seq"
)

// HandshakeKind identifies the phase of the three-way SRT/UDT handshake.
type HandshakeKind int32

const (
	KindInduction  HandshakeKind = 1
	KindConclusion HandshakeKind = -1
	KindAgreement  HandshakeKind = -2
)

// SupportedVersion is the UDT protocol version this module speaks.
const SupportedVersion uint32 = 4

// StreamSocketType is the "stream" socket type value used by the
// induction handshake.
const StreamSocketType uint32 = 1

// SRTVersion is the SRT extension version this module advertises:
// 0x00010500, i.e. 1.5.0.
const SRTVersion uint32 = 0x00010500

// extensionType identifies the SRT handshake extension block.
const extensionType uint16 = 1

// extensionLengthWords is the SRT extension's fixed body length in 32-bit
// words: version, flags, latency.
const extensionLengthWords uint16 = 3

// Capability is an 8-bit set of SRT capability bits negotiated during the
// handshake.
type Capability uint8

const (
	CapTSBPDSender Capability = 1 << iota
	CapTSBPDReceiver
	CapEncryption
	CapTooLateDrop
	CapNAKReport
	CapRetransmitFlag
	CapStreamMode
	CapPacketFilter
)

// Has reports whether all bits in mask are set.
func (c Capability) Has(mask Capability) bool { return c&mask == mask }

// Negotiate returns the capability set both peers support: the bitwise
// AND of the two capability sets.
func Negotiate(local, peer Capability) Capability { return local & peer }

// Extension is the optional SRT handshake extension. It is only present
// when both peers advertise SRT extension support.
type Extension struct {
	SRTVersion uint32
	Flags      Capability
	// LatencyReceiverMs is the receiver's target latency in milliseconds,
	// packed into the high 16 bits of the latency word on the wire.
	LatencyReceiverMs uint16
	// LatencySenderMs is the sender's target latency in milliseconds,
	// packed into the low 16 bits of the latency word on the wire.
	LatencySenderMs uint16
}

// Handshake is the decoded UDT handshake body plus optional SRT
// extension.
type Handshake struct {
	Version       uint32
	SocketType    uint32
	InitialSeq    seq.Number
	MaxPacketSize uint32
	MaxFlowWindow uint32
	Kind          HandshakeKind
	SocketID      uint32
	Cookie        uint32
	PeerAddress   [16]byte
	Extension     *Extension // nil when not present.
}

const baseHandshakeSize = 48 // 8 32-bit words + 16-byte address.

// EncodeHandshake serializes a Handshake into a control body suitable for
// packet.ControlPacket{Header: Header{Type: CtrlHandshake}, Body: ...}.
func EncodeHandshake(hs Handshake) []byte {
	size := baseHandshakeSize
	if hs.Extension != nil {
		size += 4 + int(extensionLengthWords)*4
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], hs.Version)
	binary.BigEndian.PutUint32(buf[4:8], hs.SocketType)
	binary.BigEndian.PutUint32(buf[8:12], hs.InitialSeq.Raw())
	binary.BigEndian.PutUint32(buf[12:16], hs.MaxPacketSize)
	binary.BigEndian.PutUint32(buf[16:20], hs.MaxFlowWindow)
	binary.BigEndian.PutUint32(buf[20:24], uint32(hs.Kind))
	binary.BigEndian.PutUint32(buf[24:28], hs.SocketID)
	binary.BigEndian.PutUint32(buf[28:32], hs.Cookie)
	copy(buf[32:48], hs.PeerAddress[:])
	if hs.Extension != nil {
		ext := hs.Extension
		binary.BigEndian.PutUint16(buf[48:50], extensionType)
		binary.BigEndian.PutUint16(buf[50:52], extensionLengthWords)
		binary.BigEndian.PutUint32(buf[52:56], ext.SRTVersion)
		binary.BigEndian.PutUint32(buf[56:60], uint32(ext.Flags))
		binary.BigEndian.PutUint32(buf[60:64], uint32(ext.LatencyReceiverMs)<<16|uint32(ext.LatencySenderMs))
	}
	return buf
}

// DecodeHandshake parses a handshake control body. It fails with
// InvalidPacket if shorter than the base 48-byte body, and with
// ExtensionError if an extension header is present but truncated or
// names an unexpected type/length.
func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < baseHandshakeSize {
		return Handshake{}, &InvalidPacket{Reason: fmt.Sprintf("body is %d bytes, want at least %d", len(buf), baseHandshakeSize)}
	}
	hs := Handshake{
		Version:       binary.BigEndian.Uint32(buf[0:4]),
		SocketType:    binary.BigEndian.Uint32(buf[4:8]),
		InitialSeq:    seq.New(binary.BigEndian.Uint32(buf[8:12])),
		MaxPacketSize: binary.BigEndian.Uint32(buf[12:16]),
		MaxFlowWindow: binary.BigEndian.Uint32(buf[16:20]),
		Kind:          HandshakeKind(int32(binary.BigEndian.Uint32(buf[20:24]))),
		SocketID:      binary.BigEndian.Uint32(buf[24:28]),
		Cookie:        binary.BigEndian.Uint32(buf[28:32]),
	}
	copy(hs.PeerAddress[:], buf[32:48])
	if len(buf) == baseHandshakeSize {
		return hs, nil
	}
	rest := buf[baseHandshakeSize:]
	if len(rest) < 4 {
		return Handshake{}, &ExtensionError{Reason: "truncated extension header"}
	}
	typ := binary.BigEndian.Uint16(rest[0:2])
	length := binary.BigEndian.Uint16(rest[2:4])
	if typ != extensionType {
		return Handshake{}, &ExtensionError{Reason: fmt.Sprintf("unexpected extension type %d", typ)}
	}
	if length != extensionLengthWords {
		return Handshake{}, &ExtensionError{Reason: fmt.Sprintf("unexpected extension length %d words", length)}
	}
	if len(rest) < 4+int(length)*4 {
		return Handshake{}, &ExtensionError{Reason: "truncated extension body"}
	}
	body := rest[4:]
	latency := binary.BigEndian.Uint32(body[8:12])
	hs.Extension = &Extension{
		SRTVersion:        binary.BigEndian.Uint32(body[0:4]),
		Flags:             Capability(binary.BigEndian.Uint32(body[4:8])),
		LatencyReceiverMs: uint16(latency >> 16),
		LatencySenderMs:   uint16(latency & 0xFFFF),
	}
	return hs, nil
}

// IncompatibleVersion is returned when a peer's handshake advertises a
// UDT protocol version this module cannot interoperate with.
type IncompatibleVersion struct {
	Peer uint32
}

func (e *IncompatibleVersion) Error() string {
	return fmt.Sprintf("packet: incompatible handshake version %d", e.Peer)
}

// InvalidPacket is returned when a handshake body is structurally
// unusable (too short, or fields outside their valid domain).
type InvalidPacket struct {
	Reason string
}

func (e *InvalidPacket) Error() string { return "packet: invalid handshake: " + e.Reason }

// Rejected is returned when a peer's handshake is well-formed but refused
// by local policy (e.g. an unsupported socket type).
type Rejected struct {
	Reason string
}

func (e *Rejected) Error() string { return "packet: handshake rejected: " + e.Reason }
