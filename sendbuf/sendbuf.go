// Package sendbuf implements the sender-side packet ring: a power-of-two
// ring of in-flight data packets addressed by sequence number, tracking
// send counts for retransmit-flag bookkeeping and acknowledgement/TTL
// sweeps that reclaim slots. Unlike a byte-stream ring, SRT acknowledges
// entire datagrams, never partial ones, so slots are whole packets.
package sendbuf

import (
	"errors"
	"time"

	"github.com/srtlab/srtgo/internal/ring"
	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

// Full is returned by Push when the buffer is at capacity even after a
// TTL sweep.
var Full = errors.New("sendbuf: full")

// NotFound is returned by GetForSend when no live entry matches the
// requested sequence number.
var NotFound = errors.New("sendbuf: sequence not found")

type entry struct {
	occupied     bool
	acknowledged bool
	seq          seq.Number
	pkt          packet.DataPacket
	firstSent    time.Time
	lastSent     time.Time
	sendCount    int
}

// Buffer is the sender-side packet ring. Methods are not safe for
// concurrent use; the owning conn.Connection, itself single-threaded,
// is the only caller.
type Buffer struct {
	entries  []entry
	capacity int

	nextSeq        seq.Number
	oldestUnacked  seq.Number
	oldestInBuffer seq.Number

	ttl time.Duration
	now func() time.Time
}

// New creates a Buffer able to hold at least capacity in-flight packets,
// rounded up to a power of two, starting sequence assignment at iss.
func New(capacity int, iss seq.Number, ttl time.Duration, now func() time.Time) *Buffer {
	cap := ring.Capacity(capacity)
	return &Buffer{
		entries:        make([]entry, cap),
		capacity:       cap,
		nextSeq:        iss,
		oldestUnacked:  iss,
		oldestInBuffer: iss,
		ttl:            ttl,
		now:            now,
	}
}

// Occupancy returns next_seq − oldest_unacked, not the raw slot-occupied
// count (which can differ once DropExpired has reclaimed TTL-expired
// slots out of order).
func (b *Buffer) Occupancy() int {
	return int(b.oldestUnacked.Distance(b.nextSeq))
}

// Push assigns the buffer's next sequence number to pkt, stamps its
// header, and stores it as newly sent. It runs a TTL sweep and retries
// once if the buffer is at capacity.
func (b *Buffer) Push(pkt packet.DataPacket) (seq.Number, error) {
	if b.Occupancy() >= b.capacity {
		b.DropExpired()
		if b.Occupancy() >= b.capacity {
			return 0, Full
		}
	}
	s := b.nextSeq
	pkt.Header.Seq = s
	now := b.now()
	slot := ring.Slot(s.Raw(), b.capacity)
	b.entries[slot] = entry{
		occupied:  true,
		seq:       s,
		pkt:       pkt,
		firstSent: now,
		lastSent:  now,
		sendCount: 1,
	}
	b.nextSeq = b.nextSeq.Next()
	return s, nil
}

// GetForSend returns a copy of the packet stored at s, touching its
// last-sent time and incrementing its send count. From the second send
// onward the returned copy carries the retransmit flag set.
func (b *Buffer) GetForSend(s seq.Number) (packet.DataPacket, error) {
	slot := ring.Slot(s.Raw(), b.capacity)
	e := &b.entries[slot]
	if !e.occupied || e.seq != s {
		return packet.DataPacket{}, NotFound
	}
	e.lastSent = b.now()
	e.sendCount++
	out := e.pkt
	if e.sendCount >= 2 {
		mn := packet.MsgNumber(out.Header.MsgOrInfo)
		out.Header.MsgOrInfo = uint32(mn.WithRetransmit())
	}
	return out, nil
}

// AcknowledgeUpTo marks every entry whose stored sequence is ≤ ackSeq
// (wrap-aware) as acknowledged and advances oldest-unacked to ackSeq's
// successor. ackSeq is clamped to the last assigned sequence (next_seq's
// predecessor) first, so a peer ACK that (incorrectly, or due to
// reordering) names a not-yet-assigned sequence cannot advance
// oldest-unacked past next_seq.
func (b *Buffer) AcknowledgeUpTo(ackSeq seq.Number) {
	if !ackSeq.LessThan(b.nextSeq) {
		ackSeq = b.nextSeq.Prev()
	}
	for s := b.oldestInBuffer; s.LessThanEq(ackSeq) && s.LessThan(b.nextSeq); s = s.Next() {
		slot := ring.Slot(s.Raw(), b.capacity)
		e := &b.entries[slot]
		if e.occupied && e.seq == s {
			e.acknowledged = true
		}
	}
	b.oldestUnacked = ackSeq.Next()
}

// FlushAcknowledged removes acknowledged entries starting at
// oldest-in-buffer, in sequence order, stopping at the first
// unacknowledged or empty slot, and returns the count removed.
func (b *Buffer) FlushAcknowledged() int {
	n := 0
	for b.oldestInBuffer.LessThan(b.nextSeq) {
		slot := ring.Slot(b.oldestInBuffer.Raw(), b.capacity)
		e := &b.entries[slot]
		if !e.occupied || e.seq != b.oldestInBuffer || !e.acknowledged {
			break
		}
		*e = entry{}
		b.oldestInBuffer = b.oldestInBuffer.Next()
		n++
	}
	return n
}

// DropExpired sweeps all slots and removes entries whose first-sent age
// exceeds the buffer's TTL, returning the count removed.
func (b *Buffer) DropExpired() int {
	n := 0
	now := b.now()
	for i := range b.entries {
		e := &b.entries[i]
		if e.occupied && now.Sub(e.firstSent) > b.ttl {
			*e = entry{}
			n++
		}
	}
	if b.oldestInBuffer.LessThan(b.nextSeq) {
		slot := ring.Slot(b.oldestInBuffer.Raw(), b.capacity)
		if !b.entries[slot].occupied {
			// The dropped run may include oldest-in-buffer itself; walk
			// forward past any now-empty prefix so FlushAcknowledged's
			// contiguity assumption keeps holding.
			for b.oldestInBuffer.LessThan(b.nextSeq) {
				slot = ring.Slot(b.oldestInBuffer.Raw(), b.capacity)
				if b.entries[slot].occupied {
					break
				}
				b.oldestInBuffer = b.oldestInBuffer.Next()
			}
		}
	}
	// Dropped packets are abandoned, so oldest-unacked never trails
	// oldest-in-buffer.
	if b.oldestUnacked.LessThan(b.oldestInBuffer) {
		b.oldestUnacked = b.oldestInBuffer
	}
	return n
}

// NextSeq returns the sequence number that will be assigned to the next
// pushed packet.
func (b *Buffer) NextSeq() seq.Number { return b.nextSeq }

// OldestUnacked returns the oldest sequence number not yet acknowledged.
func (b *Buffer) OldestUnacked() seq.Number { return b.oldestUnacked }
