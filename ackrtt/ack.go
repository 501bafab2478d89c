// Package ackrtt implements ACK/NAK generation timing and the smoothed
// RTT/RTO estimator. Each generator pairs a boolean query method (should
// this fire now) with a state-advancing generator method that only runs
// once the caller commits to sending.
package ackrtt

import (
	"time"

	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

// seqJumpThreshold is the "sequence number has advanced significantly"
// trigger for an early ACK: |current − last_ack_seq| ≥ 64.
const seqJumpThreshold = 64

// Generator produces ACK control packets on a timer, or early when the
// receive sequence has advanced far enough that waiting for the timer
// would let the peer's send buffer grow unnecessarily.
type Generator struct {
	lastAckSeq  seq.Number
	lastAckTime time.Time
	ackInterval time.Duration
	ackNumber   uint16

	now func() time.Time
}

// NewGenerator creates an ACK generator with the given interval. The
// first call to ShouldSendAck always reports true, since last-ack-time
// is left at its zero value.
func NewGenerator(ackInterval time.Duration, now func() time.Time) *Generator {
	return &Generator{ackInterval: ackInterval, now: now}
}

// ShouldSendAck reports whether an ACK is due: either the interval has
// elapsed since the last one, or currentSeq has moved seqJumpThreshold
// or more sequence numbers away from the last acknowledged sequence.
func (g *Generator) ShouldSendAck(currentSeq seq.Number) bool {
	elapsed := g.now().Sub(g.lastAckTime) >= g.ackInterval
	jumped := abs64(g.lastAckSeq.Distance(currentSeq)) >= seqJumpThreshold
	return elapsed || jumped
}

// GenerateAck builds an Ack control packet from fields, stamps internal
// state (last-ack-seq, last-ack-time), and increments the generator's
// 16-bit ACK counter into the control packet's type-specific field.
func (g *Generator) GenerateAck(fields packet.AckFields, destSocketID uint32) packet.ControlPacket {
	g.lastAckSeq = fields.AckedSeq
	g.lastAckTime = g.now()
	g.ackNumber++

	return packet.ControlPacket{
		Header: packet.Header{
			IsControl:    true,
			Type:         packet.CtrlAck,
			TypeInfo:     g.ackNumber,
			MsgOrInfo:    fields.AckedSeq.Raw(),
			DestSocketID: destSocketID,
		},
		Body: packet.EncodeAckBody(fields),
	}
}

// LastAckSeq returns the sequence number of the most recently generated
// ACK.
func (g *Generator) LastAckSeq() seq.Number { return g.lastAckSeq }

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
