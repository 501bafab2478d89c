// Package balancing implements SRT bonding's load-balancing mode:
// distribute sends across Active members by one of five selection
// algorithms, tracking per-path weight, RTT, loss, and in-flight count.
// Per-path state lives directly on group.Member rather than a separate
// capacities map, since a Group membership already carries weight/RTT/
// loss/in-flight fields for exactly this purpose.
package balancing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/srtlab/srtgo/group"
	"github.com/srtlab/srtgo/internal/lg"
	"github.com/srtlab/srtgo/transport"
)

// Algorithm selects among five path-selection policies.
type Algorithm uint8

const (
	RoundRobin Algorithm = iota
	WeightedRoundRobin
	LeastLoaded
	FastestPath
	HighestBandwidth
)

// ErrNoActiveMembers is returned when the group has no Active member to
// select among.
var ErrNoActiveMembers = errors.New("balancing: no active members")

// ErrAllPathsFailed is returned when every member has been exhausted by
// the retry-on-failure loop.
var ErrAllPathsFailed = errors.New("balancing: all paths failed")

// SendResult reports which path a balanced Send used.
type SendResult struct {
	PathID    uint32
	BytesSent int
}

// Weight computes a path's selection weight: bandwidth × 1/(rtt+1) ×
// (1-loss), zero once loss reaches 1.0.
func Weight(m *group.Member) float64 {
	loss := m.LossRate()
	if loss >= 1.0 {
		return 0
	}
	bandwidth := float64(m.BandwidthBps())
	rttFactor := 1.0 / (float64(m.RTTMicros()) + 1)
	return bandwidth * rttFactor * (1 - loss)
}

// Available reports whether a path may currently receive traffic: its
// in-flight count is under cap and its loss rate is below 0.5.
func Available(m *group.Member, cap uint32) bool {
	return m.InFlight() < cap && m.LossRate() < 0.5
}

// Balancer selects among a Group's Active members per a configured
// Algorithm.
type Balancer struct {
	g         *group.Group
	algorithm Algorithm

	roundRobinCounter uint64
	nextRandom        func() float64
	log               lg.Logger
}

// New constructs a Balancer. nextRandom supplies the pseudo-random
// threshold WeightedRoundRobin draws from [0, total_weight); pass a
// deterministic generator for tests.
func New(g *group.Group, algorithm Algorithm, nextRandom func() float64) *Balancer {
	return &Balancer{g: g, algorithm: algorithm, nextRandom: nextRandom}
}

// SetLogger attaches l as the balancer's logger.
func (b *Balancer) SetLogger(l *slog.Logger) { b.log = lg.New(l) }

// Send selects a path per the configured algorithm and submits data to
// it, incrementing the path's in-flight count on success. On failure the
// path is marked Broken (loss rate 1.0) and selection retries, bounded by
// the member count.
func (b *Balancer) Send(ctx context.Context, sink transport.Sink, data []byte) (SendResult, error) {
	return b.sendAttempt(ctx, sink, data, 0, len(b.g.GetActiveMembers()))
}

func (b *Balancer) sendAttempt(ctx context.Context, sink transport.Sink, data []byte, depth, maxAttempts int) (SendResult, error) {
	members := b.g.GetActiveMembers()
	if len(members) == 0 && depth == 0 {
		return SendResult{}, ErrNoActiveMembers
	}
	if len(members) == 0 || depth >= maxAttempts {
		return SendResult{}, ErrAllPathsFailed
	}

	pathID := b.selectPath(members)
	m, err := b.g.GetMember(pathID)
	if err != nil {
		return SendResult{}, err
	}

	b.g.NextSequence()
	if err := sink.WriteDatagram(ctx, pathID, data); err != nil {
		m.MarkFailed()
		if uerr := b.g.UpdateMemberStatus(pathID, group.StatusBroken); uerr != nil {
			return SendResult{}, uerr
		}
		b.log.Debug("path send failed, retrying", slog.Uint64("path", uint64(pathID)), slog.Int("depth", depth))
		return b.sendAttempt(ctx, sink, data, depth+1, maxAttempts)
	}

	m.RecordSendSuccess(len(data))
	return SendResult{PathID: pathID, BytesSent: len(data)}, nil
}

// OnAck decrements a path's in-flight count after n packets are
// acknowledged.
func (b *Balancer) OnAck(pathID uint32, n uint32) {
	m, err := b.g.GetMember(pathID)
	if err != nil {
		return
	}
	m.OnAck(n, 0)
}

// OnLoss updates a path's loss-rate EWMA and in-flight count after n
// packets are declared lost.
func (b *Balancer) OnLoss(pathID uint32, n uint32) {
	m, err := b.g.GetMember(pathID)
	if err != nil {
		return
	}
	m.OnLoss(n)
}

func (b *Balancer) selectPath(members []*group.Member) uint32 {
	switch b.algorithm {
	case RoundRobin:
		idx := int(b.roundRobinCounter % uint64(len(members)))
		b.roundRobinCounter++
		return members[idx].SocketID()

	case WeightedRoundRobin:
		weights := make([]float64, len(members))
		var total float64
		for i, m := range members {
			w := Weight(m)
			if w == 0 && m.LossRate() < 1.0 {
				w = 1 // no capacity estimate yet defaults to equal weight, per the original's unwrap_or(1.0)
			}
			weights[i] = w
			total += w
		}
		if total == 0 {
			return members[0].SocketID()
		}
		r := 0.5
		if b.nextRandom != nil {
			r = b.nextRandom()
		}
		threshold := r * total
		for i, w := range weights {
			threshold -= w
			if threshold <= 0 {
				return members[i].SocketID()
			}
		}
		return members[len(members)-1].SocketID()

	case LeastLoaded:
		best := members[0]
		for _, m := range members[1:] {
			if m.InFlight() < best.InFlight() {
				best = m
			}
		}
		return best.SocketID()

	case FastestPath:
		best := members[0]
		for _, m := range members[1:] {
			if m.RTTMicros() < best.RTTMicros() {
				best = m
			}
		}
		return best.SocketID()

	case HighestBandwidth:
		best := members[0]
		for _, m := range members[1:] {
			if m.BandwidthBps() > best.BandwidthBps() {
				best = m
			}
		}
		return best.SocketID()

	default:
		return members[0].SocketID()
	}
}
