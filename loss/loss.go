// Package loss implements the coalesced loss-range tracking shared by
// sender retransmission queues and receiver NAK generation. Ranges are
// kept in a single sorted slice, which each add rebuilds and re-sorts,
// with a clock injected for deterministic NAK-throttle testing
// the way sendbuf.Buffer takes one.
package loss

import (
	"sort"
	"time"

	"github.com/srtlab/srtgo/seq"
)

// Range is an inclusive sequence range.
type Range struct {
	Start, End seq.Number
}

// Contains reports whether s lies within the range.
func (r Range) Contains(s seq.Number) bool { return r.Start.LessThanEq(s) && s.LessThanEq(r.End) }

// Len returns the number of sequence numbers the range spans.
func (r Range) Len() int { return int(r.Start.Distance(r.End)) + 1 }

// touches reports whether r and other overlap or are adjacent: one
// starts at or before the other's end-plus-one, and ends at or after
// the other's start-minus-one.
func (r Range) touches(other Range) bool {
	return other.Start.LessThanEq(r.End.Next()) && other.End.GreaterThanEq(r.Start.Prev())
}

func (r Range) merge(other Range) Range {
	start, end := r.Start, r.End
	if other.Start.LessThan(start) {
		start = other.Start
	}
	if other.End.GreaterThan(end) {
		end = other.End
	}
	return Range{Start: start, End: end}
}

type entry struct {
	rng         Range
	detectedAt  time.Time
	lastNakSent time.Time
	hasSentNak  bool
	nakCount    uint32
}

// List is a single underlying loss list of coalesced ranges held in
// wrap-aware sorted order by range start. Sender and receiver wrap it
// (see SenderList.PopNext and ReceiverList.NakBody) with the asymmetric policy each side
// needs.
type List struct {
	entries     []entry
	maxNakCount uint32
	nakInterval time.Duration
	now         func() time.Time
}

// New creates a List. maxNakCount bounds how many times a single loss is
// re-NAK'd; nakInterval is the minimum spacing between NAKs for the same
// loss.
func New(maxNakCount uint32, nakInterval time.Duration, now func() time.Time) *List {
	return &List{maxNakCount: maxNakCount, nakInterval: nakInterval, now: now}
}

// Add records a single lost sequence number.
func (l *List) Add(s seq.Number) { l.AddRange(Range{Start: s, End: s}) }

// AddRange records a lost range, merging it into any touching existing
// entries: the merged entry keeps the earliest detection time and the
// maximum NAK count among the entries it absorbed.
func (l *List) AddRange(r Range) {
	merged := entry{rng: r, detectedAt: l.now()}

	kept := l.entries[:0:0]
	for _, e := range l.entries {
		if merged.rng.touches(e.rng) {
			merged.rng = merged.rng.merge(e.rng)
			if e.detectedAt.Before(merged.detectedAt) {
				merged.detectedAt = e.detectedAt
			}
			if e.nakCount > merged.nakCount {
				merged.nakCount = e.nakCount
			}
			if e.hasSentNak {
				merged.hasSentNak = true
				if merged.lastNakSent.Before(e.lastNakSent) {
					merged.lastNakSent = e.lastNakSent
				}
			}
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, merged)
	sort.Slice(kept, func(i, j int) bool { return kept[i].rng.Start.LessThan(kept[j].rng.Start) })
	l.entries = kept
}

// Remove drops a single recovered sequence number, splitting its
// containing range into at most two.
func (l *List) Remove(s seq.Number) {
	out := l.entries[:0:0]
	for _, e := range l.entries {
		if !e.rng.Contains(s) {
			out = append(out, e)
			continue
		}
		switch {
		case e.rng.Start == e.rng.End:
			// Single-packet range: drop entirely.
		case s == e.rng.Start:
			e.rng.Start = e.rng.Start.Next()
			out = append(out, e)
		case s == e.rng.End:
			e.rng.End = e.rng.End.Prev()
			out = append(out, e)
		default:
			left := e
			left.rng.End = s.Prev()
			right := e
			right.rng.Start = s.Next()
			out = append(out, left, right)
		}
	}
	l.entries = out
}

// RemoveUpTo drops every entry ending at or before s, and trims the
// leading range if it starts at or before s.
func (l *List) RemoveUpTo(s seq.Number) {
	out := l.entries[:0:0]
	for _, e := range l.entries {
		if e.rng.End.LessThanEq(s) {
			continue
		}
		if e.rng.Start.LessThanEq(s) {
			e.rng.Start = s.Next()
		}
		out = append(out, e)
	}
	l.entries = out
}

// NakRanges returns every entry due for a NAK: never NAK'd, or last
// NAK'd at least nak_interval ago with nak_count below the configured
// maximum. Matching entries have their last-nak-time stamped and
// nak_count incremented.
func (l *List) NakRanges() []Range {
	now := l.now()
	var out []Range
	for i := range l.entries {
		e := &l.entries[i]
		due := !e.hasSentNak || (now.Sub(e.lastNakSent) >= l.nakInterval && e.nakCount < l.maxNakCount)
		if !due {
			continue
		}
		out = append(out, e.rng)
		e.hasSentNak = true
		e.lastNakSent = now
		e.nakCount++
	}
	return out
}

// Ranges returns every tracked range, in order, for inspection.
func (l *List) Ranges() []Range {
	out := make([]Range, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.rng
	}
	return out
}

// Len returns the total number of lost sequence numbers across all
// ranges.
func (l *List) Len() int {
	n := 0
	for _, e := range l.entries {
		n += e.rng.Len()
	}
	return n
}

// Empty reports whether the list holds no loss ranges.
func (l *List) Empty() bool { return len(l.entries) == 0 }
