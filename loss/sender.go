package loss

import (
	"time"

	"github.com/srtlab/srtgo/seq"
)

// SenderList tracks packets a NAK from the peer has reported lost,
// driving retransmission. It imposes no NAK throttling of its own (it
// never generates NAKs): its inner List is constructed with an unbounded
// NAK count and a zero interval, since those fields are meaningless on
// the sender side.
type SenderList struct {
	inner *List
}

// NewSenderList creates an empty sender-side loss list.
func NewSenderList(now func() time.Time) *SenderList {
	return &SenderList{inner: New(^uint32(0), 0, now)}
}

// Add records a sequence number reported lost by a NAK.
func (s *SenderList) Add(n seq.Number) { s.inner.Add(n) }

// AddRange records a lost range reported by a NAK.
func (s *SenderList) AddRange(r Range) { s.inner.AddRange(r) }

// Remove drops a sequence number once it has been retransmitted.
func (s *SenderList) Remove(n seq.Number) { s.inner.Remove(n) }

// PopNext returns and removes the smallest pending sequence number, for
// driving the next retransmit.
func (s *SenderList) PopNext() (seq.Number, bool) {
	ranges := s.inner.entries
	if len(ranges) == 0 {
		return 0, false
	}
	next := ranges[0].rng.Start
	s.inner.Remove(next)
	return next, true
}

// Empty reports whether there is nothing pending retransmission.
func (s *SenderList) Empty() bool { return s.inner.Empty() }

// Len returns the total number of sequence numbers pending retransmit.
func (s *SenderList) Len() int { return s.inner.Len() }
