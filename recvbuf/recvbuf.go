// Package recvbuf implements the receiver-side packet ring and in-order
// reassembly state machine: a capacity-addressed slot array keyed by
// sequence number, since packets can arrive out of order and must be
// held at their own slot rather than written at a moving offset. A run
// of slots sharing one MsgNumber's 26-bit message sequence, bounded by
// First/Subsequent/Last/Solo markers, reassembles into one message.
package recvbuf

import (
	"github.com/srtlab/srtgo/internal/ring"
	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

type entry struct {
	occupied bool
	seq      seq.Number
	pkt      packet.DataPacket
}

// Buffer is the receiver-side packet ring. Not safe for concurrent use;
// the owning conn.Connection, itself single-threaded, is the only caller.
type Buffer struct {
	entries  []entry
	capacity int

	nextExpected    seq.Number
	highestReceived seq.Number
	hasHighest      bool

	ready [][]byte

	// DroppedOrphans counts Subsequent/Last slots found at next-expected
	// with no preceding First. Kept as a loss-tolerant silent drop, made
	// observable via this counter rather than changing the drop behavior
	// itself.
	DroppedOrphans int
}

// New creates a Buffer of at least capacity slots, rounded up to a power
// of two, expecting iss as the first sequence number.
func New(capacity int, iss seq.Number) *Buffer {
	c := ring.Capacity(capacity)
	return &Buffer{
		entries:      make([]entry, c),
		capacity:     c,
		nextExpected: iss,
	}
}

// Push stores an incoming data packet and runs reassembly. Duplicates and
// sequences already passed by next-expected are dropped silently.
func (b *Buffer) Push(pkt packet.DataPacket) error {
	s := pkt.Header.Seq
	if s.LessThan(b.nextExpected) {
		return nil
	}
	if b.nextExpected.Distance(s) >= int64(b.capacity) {
		return &OutOfRange{Seq: s, NextExpected: b.nextExpected, Capacity: b.capacity}
	}
	slot := ring.Slot(s.Raw(), b.capacity)
	e := &b.entries[slot]
	if e.occupied && e.seq == s {
		return nil
	}
	*e = entry{occupied: true, seq: s, pkt: pkt}
	if !b.hasHighest || b.highestReceived.LessThan(s) {
		b.highestReceived = s
		b.hasHighest = true
	}
	b.reassemble()
	return nil
}

// PopReady removes and returns the next assembled message, if any.
func (b *Buffer) PopReady() ([]byte, bool) {
	if len(b.ready) == 0 {
		return nil, false
	}
	msg := b.ready[0]
	b.ready = b.ready[1:]
	return msg, true
}

func (b *Buffer) reassemble() {
	for {
		slot := ring.Slot(b.nextExpected.Raw(), b.capacity)
		e := &b.entries[slot]
		if !e.occupied || e.seq != b.nextExpected {
			return
		}
		mn := packet.MsgNumber(e.pkt.Header.MsgOrInfo)
		switch mn.Boundary() {
		case packet.BoundarySolo:
			b.ready = append(b.ready, e.pkt.Payload)
			*e = entry{}
			b.nextExpected = b.nextExpected.Next()

		case packet.BoundaryFirst:
			if !b.reassembleMessage(mn.MsgSeq()) {
				return
			}

		default: // Subsequent or Last with no preceding First: orphan.
			*e = entry{}
			b.DroppedOrphans++
			b.nextExpected = b.nextExpected.Next()
		}
	}
}

// reassembleMessage scans forward from next-expected for a run of slots
// sharing msgSeq, stopping at the first gap (returns false, no change)
// or completing at a Last boundary (concatenates, clears the run,
// advances next-expected, returns true).
func (b *Buffer) reassembleMessage(msgSeq uint32) bool {
	var payloads [][]byte
	total := 0
	cur := b.nextExpected
	for i := 0; i < b.capacity; i++ {
		slot := ring.Slot(cur.Raw(), b.capacity)
		e := &b.entries[slot]
		if !e.occupied || e.seq != cur {
			return false // gap: wait for more packets.
		}
		mn := packet.MsgNumber(e.pkt.Header.MsgOrInfo)
		if mn.MsgSeq() != msgSeq {
			return false // malformed run: wait, a later orphan sweep will clear it.
		}
		payloads = append(payloads, e.pkt.Payload)
		total += len(e.pkt.Payload)
		if mn.Boundary() == packet.BoundaryLast {
			assembled := make([]byte, 0, total)
			for _, p := range payloads {
				assembled = append(assembled, p...)
			}
			b.ready = append(b.ready, assembled)

			clear := b.nextExpected
			for {
				cslot := ring.Slot(clear.Raw(), b.capacity)
				b.entries[cslot] = entry{}
				if clear == cur {
					break
				}
				clear = clear.Next()
			}
			b.nextExpected = cur.Next()
			return true
		}
		cur = cur.Next()
	}
	return false // ran the whole capacity without finding Last: wait.
}

// LossList returns every sequence in (next_expected, highest_received]
// whose slot is empty.
func (b *Buffer) LossList() []seq.Number {
	if !b.hasHighest || !b.nextExpected.LessThan(b.highestReceived) {
		return nil
	}
	var out []seq.Number
	for s := b.nextExpected.Next(); s.LessThanEq(b.highestReceived); s = s.Next() {
		slot := ring.Slot(s.Raw(), b.capacity)
		e := &b.entries[slot]
		if !e.occupied || e.seq != s {
			out = append(out, s)
		}
	}
	return out
}

// NextExpected returns the next sequence number the buffer is waiting
// for.
func (b *Buffer) NextExpected() seq.Number { return b.nextExpected }
