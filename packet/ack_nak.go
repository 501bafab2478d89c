package packet

import (
	"encoding/binary"

	"github.com/srtlab/srtgo/seq"
)

// AckBodySize is the fixed wire size of an ACK control body: seven
// big-endian 32-bit words.
const AckBodySize = 28

// AckFields is the decoded body of an Ack control packet. Generation
// (timing, field population from RTT/congestion state) lives in package
// ackrtt; this type only carries the wire fields.
type AckFields struct {
	AckedSeq        seq.Number
	RTTMicros       uint32
	RTTVarMicros    uint32
	AvailBufPackets uint32
	ArrivalRatePPS  uint32
	LinkCapacityPPS uint32
	ReceiveRateBps  uint32
}

// EncodeAckBody serializes f into a 28-byte Ack control body.
func EncodeAckBody(f AckFields) []byte {
	buf := make([]byte, AckBodySize)
	binary.BigEndian.PutUint32(buf[0:4], f.AckedSeq.Raw())
	binary.BigEndian.PutUint32(buf[4:8], f.RTTMicros)
	binary.BigEndian.PutUint32(buf[8:12], f.RTTVarMicros)
	binary.BigEndian.PutUint32(buf[12:16], f.AvailBufPackets)
	binary.BigEndian.PutUint32(buf[16:20], f.ArrivalRatePPS)
	binary.BigEndian.PutUint32(buf[20:24], f.LinkCapacityPPS)
	binary.BigEndian.PutUint32(buf[24:28], f.ReceiveRateBps)
	return buf
}

// DecodeAckBody parses a 28-byte Ack control body.
func DecodeAckBody(buf []byte) (AckFields, error) {
	if len(buf) < AckBodySize {
		return AckFields{}, &InsufficientData{Expected: AckBodySize, Got: len(buf)}
	}
	return AckFields{
		AckedSeq:        seq.New(binary.BigEndian.Uint32(buf[0:4])),
		RTTMicros:       binary.BigEndian.Uint32(buf[4:8]),
		RTTVarMicros:    binary.BigEndian.Uint32(buf[8:12]),
		AvailBufPackets: binary.BigEndian.Uint32(buf[12:16]),
		ArrivalRatePPS:  binary.BigEndian.Uint32(buf[16:20]),
		LinkCapacityPPS: binary.BigEndian.Uint32(buf[20:24]),
		ReceiveRateBps:  binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}

// NakRange is one entry of a Nak control body: an inclusive sequence
// range. Start == End encodes as the single-packet wire form; Start !=
// End encodes as the two-word range form.
type NakRange struct {
	Start, End seq.Number
}

const nakRangeBit = uint32(1) << 31

// EncodeNakBody serializes a set of loss ranges into a Nak control body.
func EncodeNakBody(ranges []NakRange) []byte {
	buf := make([]byte, 0, len(ranges)*8)
	var w [4]byte
	for _, r := range ranges {
		if r.Start == r.End {
			binary.BigEndian.PutUint32(w[:], r.Start.Raw()&uint32(seq.Max))
			buf = append(buf, w[:]...)
			continue
		}
		binary.BigEndian.PutUint32(w[:], nakRangeBit|r.Start.Raw()&uint32(seq.Max))
		buf = append(buf, w[:]...)
		binary.BigEndian.PutUint32(w[:], r.End.Raw()&uint32(seq.Max))
		buf = append(buf, w[:]...)
	}
	return buf
}

// DecodeNakBody parses a Nak control body into its sequence ranges.
func DecodeNakBody(buf []byte) ([]NakRange, error) {
	var out []NakRange
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, &InsufficientData{Expected: 4, Got: len(buf)}
		}
		w := binary.BigEndian.Uint32(buf[0:4])
		if w&nakRangeBit == 0 {
			out = append(out, NakRange{Start: seq.New(w), End: seq.New(w)})
			buf = buf[4:]
			continue
		}
		if len(buf) < 8 {
			return nil, &InsufficientData{Expected: 8, Got: len(buf)}
		}
		start := seq.New(w &^ nakRangeBit)
		end := seq.New(binary.BigEndian.Uint32(buf[4:8]))
		out = append(out, NakRange{Start: start, End: end})
		buf = buf[8:]
	}
	return out, nil
}
