package packet

import "fmt"

// InsufficientData is returned by Decode when buf is shorter than the
// minimum required to parse the requested structure. Callers should read
// more bytes (stream transports) or drop the frame (datagram transports).
type InsufficientData struct {
	Expected, Got int
}

func (e *InsufficientData) Error() string {
	return fmt.Sprintf("packet: insufficient data: expected >= %d bytes, got %d", e.Expected, e.Got)
}

// WrongPacketType is returned by a typed constructor (DecodeData,
// DecodeControl) when the wire bytes are well-formed but
// describe a different kind of packet than the one requested. This is a
// programmer error: callers should dispatch on the header's IsControl/Type
// before calling a typed decoder.
type WrongPacketType struct {
	Wanted, Got string
}

func (e *WrongPacketType) Error() string {
	return fmt.Sprintf("packet: wrong packet type: wanted %s, got %s", e.Wanted, e.Got)
}

// InvalidControlType is returned when a control header's type field does
// not name a recognized control packet type.
type InvalidControlType struct {
	Code uint16
}

func (e *InvalidControlType) Error() string {
	return fmt.Sprintf("packet: invalid control type %#x", e.Code)
}

// ExtensionError is returned when an SRT handshake extension is malformed.
type ExtensionError struct {
	Reason string
}

func (e *ExtensionError) Error() string { return "packet: extension error: " + e.Reason }
