package loss

import (
	"time"

	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

// ReceiverList tracks gaps detected in the receive buffer, producing NAK
// control bodies on demand. A thin policy wrapper over the same
// coalesced List the sender uses.
type ReceiverList struct {
	inner *List
}

// NewReceiverList creates a receiver-side loss list with the given NAK
// retry policy.
func NewReceiverList(maxNakCount uint32, nakInterval time.Duration, now func() time.Time) *ReceiverList {
	return &ReceiverList{inner: New(maxNakCount, nakInterval, now)}
}

// Add records a single detected gap.
func (r *ReceiverList) Add(n seq.Number) { r.inner.Add(n) }

// AddRange records a detected gap range.
func (r *ReceiverList) AddRange(rng Range) { r.inner.AddRange(rng) }

// Remove drops a sequence number once the gap is filled.
func (r *ReceiverList) Remove(n seq.Number) { r.inner.Remove(n) }

// Empty reports whether there are no outstanding gaps.
func (r *ReceiverList) Empty() bool { return r.inner.Empty() }

// Len returns the total number of outstanding lost sequence numbers.
func (r *ReceiverList) Len() int { return r.inner.Len() }

// NakBody returns a ready-to-send Nak control body for every range due a
// NAK, or nil if none are due.
func (r *ReceiverList) NakBody() []byte {
	due := r.inner.NakRanges()
	if len(due) == 0 {
		return nil
	}
	wire := make([]packet.NakRange, len(due))
	for i, rng := range due {
		wire[i] = packet.NakRange{Start: rng.Start, End: rng.End}
	}
	return packet.EncodeNakBody(wire)
}
