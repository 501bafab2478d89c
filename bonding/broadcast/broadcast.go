// Package broadcast implements SRT bonding's broadcast mode: replicate
// every send across all Active members, and dedupe the arrivals of
// whichever path delivers each sequence first. Group membership and
// per-member failure counters are delegated to package group rather
// than duplicated here.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/srtlab/srtgo/group"
	"github.com/srtlab/srtgo/internal/lg"
	"github.com/srtlab/srtgo/seq"
	"github.com/srtlab/srtgo/transport"
)

// ErrNoActiveMembers is returned by Send when the group has no Active
// member to dispatch to.
var ErrNoActiveMembers = errors.New("broadcast: no active members")

// ErrAllPathsFailed is returned by Send when every attempted member send
// failed.
var ErrAllPathsFailed = errors.New("broadcast: send failed on all paths")

// ErrDuplicatePacket is returned by the receiver for an arrival already
// delivered or already buffered awaiting delivery.
var ErrDuplicatePacket = errors.New("broadcast: duplicate packet")

// SendResult reports the outcome of a broadcast Send.
type SendResult struct {
	Attempted     int
	Succeeded     int
	FailedMembers []uint32
	Sequence      seq.Number
}

// Sender replicates outbound data across every Active member of a group.
type Sender struct {
	g   *group.Group
	log lg.Logger
}

// NewSender creates a Sender over g.
func NewSender(g *group.Group) *Sender { return &Sender{g: g} }

// SetLogger attaches l as the sender's logger.
func (s *Sender) SetLogger(l *slog.Logger) { s.log = lg.New(l) }

// Send submits data to every Active member's datagram sink in parallel
// under a single group sequence number, recording per-member stats and
// marking a member Broken after its 4th consecutive failure.
func (s *Sender) Send(ctx context.Context, sink transport.Sink, data []byte) (SendResult, error) {
	members := s.g.GetActiveMembers()
	if len(members) == 0 {
		return SendResult{}, ErrNoActiveMembers
	}

	sequence := s.g.NextSequence()
	result := SendResult{Attempted: len(members), Sequence: sequence}

	var mu sync.Mutex
	var grp errgroup.Group
	for _, m := range members {
		m := m
		grp.Go(func() error {
			err := sink.WriteDatagram(ctx, m.SocketID(), data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailedMembers = append(result.FailedMembers, m.SocketID())
				if m.RecordSendFailure() {
					m.SetStatus(group.StatusBroken)
				}
				return nil
			}
			m.RecordSendSuccess(len(data))
			result.Succeeded++
			return nil
		})
	}
	grp.Wait()

	if result.Succeeded == 0 {
		s.log.Error("broadcast send failed on all paths", slog.Int("attempted", result.Attempted))
		return result, ErrAllPathsFailed
	}
	if len(result.FailedMembers) > 0 {
		s.log.Debug("broadcast send partial failure", slog.Int("failed", len(result.FailedMembers)))
	}
	return result, nil
}

// bufferedPacket is a payload held awaiting in-order delivery.
type bufferedPacket struct {
	payload  []byte
	memberID uint32
}

// Receiver deduplicates broadcast arrivals across members and delivers
// each sequence exactly once, in sequence order.
type Receiver struct {
	mu            sync.Mutex
	buffered      map[seq.Number]bufferedPacket
	nextExpected  seq.Number
	ready         [][]byte
	maxBufferSize int
	log           lg.Logger

	duplicatesDetected int
}

// NewReceiver creates a Receiver bounded by maxBufferSize buffered
// (not-yet-deliverable) packets.
func NewReceiver(maxBufferSize int) *Receiver {
	return &Receiver{
		buffered:      make(map[seq.Number]bufferedPacket),
		maxBufferSize: maxBufferSize,
	}
}

// SetLogger attaches l as the receiver's logger.
func (r *Receiver) SetLogger(l *slog.Logger) {
	r.mu.Lock()
	r.log = lg.New(l)
	r.mu.Unlock()
}

// OnPacketReceived processes one arrival from memberID at sequence s.
// Returns (true, nil) if the packet was newly accepted into the buffer
// (it may or may not have advanced the ready queue yet); ErrDuplicatePacket
// if already delivered or already buffered; (false, nil) if the buffer is
// full and the packet was silently dropped.
func (r *Receiver) OnPacketReceived(s seq.Number, payload []byte, memberID uint32) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.LessThan(r.nextExpected) {
		r.duplicatesDetected++
		r.log.Trace("duplicate arrival", slog.Uint64("member", uint64(memberID)))
		return false, ErrDuplicatePacket
	}
	if _, ok := r.buffered[s]; ok {
		r.duplicatesDetected++
		r.log.Trace("duplicate arrival", slog.Uint64("member", uint64(memberID)))
		return false, ErrDuplicatePacket
	}
	if r.maxBufferSize > 0 && len(r.buffered) >= r.maxBufferSize {
		r.log.Debug("broadcast receive buffer full, dropping", slog.Int("max", r.maxBufferSize))
		return false, nil
	}

	r.buffered[s] = bufferedPacket{payload: payload, memberID: memberID}
	r.drainReady()
	return true, nil
}

func (r *Receiver) drainReady() {
	for {
		bp, ok := r.buffered[r.nextExpected]
		if !ok {
			return
		}
		delete(r.buffered, r.nextExpected)
		r.ready = append(r.ready, bp.payload)
		r.nextExpected = r.nextExpected.Next()
	}
}

// PopReady returns the next delivered message, if any.
func (r *Receiver) PopReady() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ready) == 0 {
		return nil, false
	}
	msg := r.ready[0]
	r.ready = r.ready[1:]
	return msg, true
}

// DuplicatesDetected returns how many arrivals were recognized as
// duplicates of an already-delivered or already-buffered sequence.
func (r *Receiver) DuplicatesDetected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicatesDetected
}

// ReadyCount returns how many messages are waiting in the ready queue.
func (r *Receiver) ReadyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

// NextExpected returns the receiver's next-expected sequence number.
func (r *Receiver) NextExpected() seq.Number {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextExpected
}
