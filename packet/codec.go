package packet

import (
	"encoding/binary"

	"github.com/srtlab/srtgo/seq"
)

// decodeHeader parses the 16-byte header at the start of buf. It requires
// len(buf) >= HeaderSize.
func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &InsufficientData{Expected: HeaderSize, Got: len(buf)}
	}
	w0 := binary.BigEndian.Uint32(buf[0:4])
	w1 := binary.BigEndian.Uint32(buf[4:8])
	w2 := binary.BigEndian.Uint32(buf[8:12])
	w3 := binary.BigEndian.Uint32(buf[12:16])

	h := Header{
		MsgOrInfo:    w1,
		Timestamp:    w2,
		DestSocketID: w3,
	}
	if w0&controlBit != 0 {
		h.IsControl = true
		code := uint16(w0 >> 16 & 0x7FFF)
		typ, err := parseControlType(code)
		if err != nil {
			return Header{}, err
		}
		h.Type = typ
		h.TypeInfo = uint16(w0 & 0xFFFF)
	} else {
		h.Seq = seq.New(w0 & uint32(seq.Max))
	}
	return h, nil
}

// encodeHeader writes h's fields into the first HeaderSize bytes of buf,
// which must be at least HeaderSize long.
func encodeHeader(buf []byte, h Header) {
	var w0 uint32
	if h.IsControl {
		w0 = controlBit | uint32(h.Type)<<16&0x7FFF0000 | uint32(h.TypeInfo)
	} else {
		w0 = h.Seq.Raw() & uint32(seq.Max)
	}
	binary.BigEndian.PutUint32(buf[0:4], w0)
	binary.BigEndian.PutUint32(buf[4:8], h.MsgOrInfo)
	binary.BigEndian.PutUint32(buf[8:12], h.Timestamp)
	binary.BigEndian.PutUint32(buf[12:16], h.DestSocketID)
}

// EncodeData serializes a data packet: header then payload.
func EncodeData(p DataPacket) []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	h := p.Header
	h.IsControl = false
	encodeHeader(buf, h)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// EncodeControl serializes a control packet: header then body.
func EncodeControl(c ControlPacket) []byte {
	buf := make([]byte, HeaderSize+len(c.Body))
	h := c.Header
	h.IsControl = true
	encodeHeader(buf, h)
	copy(buf[HeaderSize:], c.Body)
	return buf
}

// Decode parses buf into either a DataPacket or a ControlPacket, returning
// exactly one of the two non-nil depending on the header's high bit. It
// fails with InsufficientData if buf is too short, or InvalidControlType
// if a control header names an unrecognized type.
func Decode(buf []byte) (data *DataPacket, ctrl *ControlPacket, err error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	body := buf[HeaderSize:]
	if h.IsControl {
		return nil, &ControlPacket{Header: h, Body: append([]byte(nil), body...)}, nil
	}
	return &DataPacket{Header: h, Payload: append([]byte(nil), body...)}, nil, nil
}

// DecodeData is a typed decoder: it fails with WrongPacketType if buf
// encodes a control packet.
func DecodeData(buf []byte) (DataPacket, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return DataPacket{}, err
	}
	if h.IsControl {
		return DataPacket{}, &WrongPacketType{Wanted: "data", Got: "control:" + h.Type.String()}
	}
	return DataPacket{Header: h, Payload: append([]byte(nil), buf[HeaderSize:]...)}, nil
}

// DecodeControl is a typed decoder: it fails with WrongPacketType if buf
// encodes a data packet.
func DecodeControl(buf []byte) (ControlPacket, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return ControlPacket{}, err
	}
	if !h.IsControl {
		return ControlPacket{}, &WrongPacketType{Wanted: "control", Got: "data"}
	}
	return ControlPacket{Header: h, Body: append([]byte(nil), buf[HeaderSize:]...)}, nil
}

// IsData reports whether buf (at least HeaderSize bytes) encodes a data
// packet, without allocating.
func IsData(buf []byte) bool {
	return len(buf) >= 4 && binary.BigEndian.Uint32(buf[0:4])&controlBit == 0
}
