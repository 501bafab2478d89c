// Package align implements SRT bonding's cross-member packet alignment:
// buffer arrivals from multiple paths keyed by sequence number, suppress
// duplicates, and deliver strictly in order once gaps fill. A companion
// PathTracker records which path delivers each sequence first and its
// running RTT, to drive fastest/most-reliable path selection. Buffer
// capacity is reclaimed lazily: an add at capacity first sweeps aged
// entries before reporting BufferFull.
package align

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/srtlab/srtgo/internal/lg"
	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

// ErrBufferFull is returned when the buffer is at capacity and cleanup
// freed no space.
var ErrBufferFull = errors.New("align: buffer is full")

// ErrTooOld is returned for a packet whose sequence already precedes
// the next expected delivery.
var ErrTooOld = errors.New("align: packet is too old")

// PacketSource identifies which member delivered a buffered packet and
// when.
type PacketSource struct {
	MemberID   uint32
	ReceivedAt time.Time
	RTTMicros  uint32
}

// AlignedPacket is a buffered packet plus its delivering source(s).
type AlignedPacket struct {
	Packet           packet.DataPacket
	Source           PacketSource
	DuplicateSources []PacketSource
}

// Stats tallies an alignment Buffer's lifetime counters.
type Stats struct {
	PacketsReceived   uint64
	PacketsDelivered  uint64
	DuplicatesDetected uint64
	PacketsTooOld     uint64
	PacketsExpired    uint64
	BufferFullEvents  uint64
}

// DuplicationRate returns DuplicatesDetected/PacketsReceived, 0 if none
// received yet.
func (s Stats) DuplicationRate() float64 {
	if s.PacketsReceived == 0 {
		return 0
	}
	return float64(s.DuplicatesDetected) / float64(s.PacketsReceived)
}

// DeliveryEfficiency returns PacketsDelivered/PacketsReceived, 0 if none
// received yet.
func (s Stats) DeliveryEfficiency() float64 {
	if s.PacketsReceived == 0 {
		return 0
	}
	return float64(s.PacketsDelivered) / float64(s.PacketsReceived)
}

// Buffer reassembles a single in-order stream out of packets arriving
// from multiple member paths, deduplicating repeats of the same
// sequence number.
type Buffer struct {
	buffer        map[seq.Number]*AlignedPacket
	nextExpected  seq.Number
	maxBufferSize int
	maxPacketAge  time.Duration
	now           func() time.Time
	stats         Stats
	log           lg.Logger
}

// SetLogger attaches l as the buffer's logger.
func (b *Buffer) SetLogger(l *slog.Logger) { b.log = lg.New(l) }

// New constructs a Buffer. now supplies the current time for age
// tracking and eviction; pass a fixed clock for deterministic tests.
func New(maxBufferSize int, maxPacketAge time.Duration, now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		buffer:        make(map[seq.Number]*AlignedPacket),
		maxBufferSize: maxBufferSize,
		maxPacketAge:  maxPacketAge,
		now:           now,
	}
}

// AddPacket buffers pkt as delivered by memberID, reporting whether this
// is a new sequence number (true) or a duplicate of one already
// buffered (false).
func (b *Buffer) AddPacket(pkt packet.DataPacket, memberID uint32, rttMicros uint32) (bool, error) {
	sn := pkt.Header.Seq

	if sn.LessThan(b.nextExpected) {
		b.stats.PacketsTooOld++
		b.log.Trace("packet too old", slog.Uint64("member", uint64(memberID)))
		return false, ErrTooOld
	}

	if len(b.buffer) >= b.maxBufferSize {
		b.cleanupOldPackets()
		if len(b.buffer) >= b.maxBufferSize {
			b.stats.BufferFullEvents++
			b.log.Debug("align buffer full", slog.Int("max", b.maxBufferSize))
			return false, ErrBufferFull
		}
	}

	source := PacketSource{MemberID: memberID, ReceivedAt: b.now(), RTTMicros: rttMicros}

	if existing, ok := b.buffer[sn]; ok {
		existing.DuplicateSources = append(existing.DuplicateSources, source)
		b.stats.DuplicatesDetected++
		b.log.Trace("duplicate arrival", slog.Uint64("member", uint64(memberID)))
		return false, nil
	}

	b.buffer[sn] = &AlignedPacket{Packet: pkt, Source: source}
	b.stats.PacketsReceived++
	return true, nil
}

// PopNext removes and returns the next-expected packet, or false if it
// has not yet arrived.
func (b *Buffer) PopNext() (AlignedPacket, bool) {
	aligned, ok := b.buffer[b.nextExpected]
	if !ok {
		return AlignedPacket{}, false
	}
	delete(b.buffer, b.nextExpected)
	b.nextExpected = b.nextExpected.Next()
	b.stats.PacketsDelivered++
	return *aligned, true
}

// PopReady drains every contiguous run of packets starting at the next
// expected sequence number.
func (b *Buffer) PopReady() []AlignedPacket {
	var ready []AlignedPacket
	for {
		aligned, ok := b.PopNext()
		if !ok {
			break
		}
		ready = append(ready, aligned)
	}
	return ready
}

func (b *Buffer) cleanupOldPackets() {
	now := b.now()
	for sn, aligned := range b.buffer {
		if now.Sub(aligned.Source.ReceivedAt) > b.maxPacketAge {
			delete(b.buffer, sn)
			b.stats.PacketsExpired++
		}
	}
}

// GetMissingSequences returns every sequence number between the next
// expected delivery and the highest buffered sequence that has not yet
// arrived.
func (b *Buffer) GetMissingSequences() []seq.Number {
	if len(b.buffer) == 0 {
		return nil
	}

	highest := b.nextExpected
	for sn := range b.buffer {
		if sn.GreaterThan(highest) {
			highest = sn
		}
	}

	var missing []seq.Number
	for current := b.nextExpected; current.LessThan(highest); current = current.Next() {
		if _, ok := b.buffer[current]; !ok {
			missing = append(missing, current)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].LessThan(missing[j]) })
	return missing
}

// GetStats returns a snapshot of the buffer's lifetime counters.
func (b *Buffer) GetStats() Stats { return b.stats }

// Utilization returns the fraction of buffer capacity in use.
func (b *Buffer) Utilization() float64 {
	if b.maxBufferSize == 0 {
		return 0
	}
	return float64(len(b.buffer)) / float64(b.maxBufferSize)
}

// BufferedCount returns the number of packets currently buffered.
func (b *Buffer) BufferedCount() int { return len(b.buffer) }

// NextExpected returns the next sequence number due for delivery.
func (b *Buffer) NextExpected() seq.Number { return b.nextExpected }

// SetNextExpected resynchronizes the delivery cursor, e.g. after a
// caller has resolved a gap out of band.
func (b *Buffer) SetNextExpected(sn seq.Number) { b.nextExpected = sn }

// PathStats tallies one member path's alignment performance.
type PathStats struct {
	PathID          uint32
	PacketsReceived uint64
	PacketsFirst    uint64
	AvgRTTMicros    uint32
}

// PathTracker records which member delivers each sequence number first
// and tracks a running RTT estimate per path.
type PathTracker struct {
	paths map[uint32]*PathStats
}

// NewPathTracker constructs an empty PathTracker.
func NewPathTracker() *PathTracker {
	return &PathTracker{paths: make(map[uint32]*PathStats)}
}

// RecordPacket updates pathID's stats: a reception count, a first-
// delivery count when wasFirst, and an 7:1-weighted EWMA of rttMicros.
func (t *PathTracker) RecordPacket(pathID uint32, wasFirst bool, rttMicros uint32) {
	st, ok := t.paths[pathID]
	if !ok {
		st = &PathStats{PathID: pathID}
		t.paths[pathID] = st
	}
	st.PacketsReceived++
	if wasFirst {
		st.PacketsFirst++
	}
	if st.AvgRTTMicros == 0 {
		st.AvgRTTMicros = rttMicros
	} else {
		st.AvgRTTMicros = uint32((uint64(st.AvgRTTMicros)*7 + uint64(rttMicros)) / 8)
	}
}

// GetStats returns pathID's stats, if any have been recorded.
func (t *PathTracker) GetStats(pathID uint32) (PathStats, bool) {
	st, ok := t.paths[pathID]
	if !ok {
		return PathStats{}, false
	}
	return *st, true
}

// AllStats returns every tracked path's stats, in no particular order.
func (t *PathTracker) AllStats() []PathStats {
	out := make([]PathStats, 0, len(t.paths))
	for _, st := range t.paths {
		out = append(out, *st)
	}
	return out
}

// FastestPath returns the tracked path with the lowest average RTT.
func (t *PathTracker) FastestPath() (uint32, bool) {
	var best *PathStats
	for _, st := range t.paths {
		if best == nil || st.AvgRTTMicros < best.AvgRTTMicros {
			best = st
		}
	}
	if best == nil {
		return 0, false
	}
	return best.PathID, true
}

// MostReliablePath returns the tracked path with the most first-
// delivery wins.
func (t *PathTracker) MostReliablePath() (uint32, bool) {
	var best *PathStats
	for _, st := range t.paths {
		if best == nil || st.PacketsFirst > best.PacketsFirst {
			best = st
		}
	}
	if best == nil {
		return 0, false
	}
	return best.PathID, true
}
