// Package group implements the socket group: the set of member
// connections a bonding mode (broadcast/backup/balancing) dispatches
// across, with a reader/writer discipline over membership and
// per-member statistics suited to many concurrent lookups against
// occasional add/remove/status-transition writes.
package group

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/rs/xid"

	"github.com/srtlab/srtgo/conn"
	"github.com/srtlab/srtgo/internal/lg"
	"github.com/srtlab/srtgo/seq"
	"github.com/srtlab/srtgo/stats"
)

// MemberStatus is a member's position in its bonding lifecycle.
type MemberStatus uint8

const (
	StatusPending MemberStatus = iota
	StatusActive
	StatusIdle
	StatusBroken
)

// String names a MemberStatus.
func (s MemberStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusIdle:
		return "idle"
	case StatusBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Kind identifies which bonding mode owns a Group.
type Kind uint8

const (
	KindBroadcast Kind = iota
	KindBackup
	KindBalancing
)

// Member pairs a Connection with its bonding-layer status, weight, and
// counters. Status/weight/counters are guarded by Member's own lock,
// separate from the Group's membership lock.
type Member struct {
	socketID uint32
	conn     *conn.Connection

	reg   *stats.Registry
	label string
	log   lg.Logger

	mu            sync.Mutex
	status        MemberStatus
	weight        float64
	failureCount  int
	packetsSent   uint64
	packetsRecv   uint64
	bytesSent     uint64
	bytesRecv     uint64
	inFlight      uint32
	lossRate      float64
	rttMicros     uint32
	bandwidthBps  uint64
}

// SocketID returns the member's local socket id.
func (m *Member) SocketID() uint32 { return m.socketID }

// Conn returns the member's underlying Connection.
func (m *Member) Conn() *conn.Connection { return m.conn }

// Status returns the member's current status.
func (m *Member) Status() MemberStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetStatus sets the member's status.
func (m *Member) SetStatus(s MemberStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Weight returns the member's current path weight.
func (m *Member) Weight() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weight
}

// SetWeight sets the member's path weight.
func (m *Member) SetWeight(w float64) {
	m.mu.Lock()
	m.weight = w
	m.mu.Unlock()
}

// InFlight returns the member's current in-flight packet count.
func (m *Member) InFlight() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// LossRate returns the member's smoothed loss rate in [0, 1].
func (m *Member) LossRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lossRate
}

// RTTMicros returns the member's last-known RTT sample, in microseconds.
func (m *Member) RTTMicros() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rttMicros
}

// BandwidthBps returns the member's last-known bandwidth estimate.
func (m *Member) BandwidthBps() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bandwidthBps
}

// SetBandwidthBps updates the member's bandwidth estimate, typically fed
// from its Connection's congestion.Controller.SendingRateBps.
func (m *Member) SetBandwidthBps(bps uint64) {
	m.mu.Lock()
	m.bandwidthBps = bps
	m.mu.Unlock()
}

// MarkFailed sets a member's loss rate to 1.0 (completely broken).
func (m *Member) MarkFailed() {
	m.mu.Lock()
	m.lossRate = 1.0
	m.mu.Unlock()
}

// RecordSendSuccess resets the consecutive-failure counter and tallies
// bytes/packets sent.
func (m *Member) RecordSendSuccess(payloadLen int) {
	m.mu.Lock()
	m.failureCount = 0
	m.packetsSent++
	m.bytesSent += uint64(payloadLen)
	m.inFlight++
	inFlight := m.inFlight
	m.mu.Unlock()
	if m.reg != nil {
		m.reg.PacketsSent.WithLabelValues(m.label).Inc()
		m.reg.BytesSent.WithLabelValues(m.label).Add(float64(payloadLen))
		m.reg.InFlight.WithLabelValues(m.label).Set(float64(inFlight))
	}
	m.log.Debug("send success", slog.Uint64("member", uint64(m.socketID)), slog.Int("len", payloadLen))
}

// RecordSendFailure increments the consecutive-failure counter and
// reports whether it has now reached the ≥4 broken-path threshold.
func (m *Member) RecordSendFailure() (brokenThresholdReached bool) {
	m.mu.Lock()
	m.failureCount++
	brokenThresholdReached = m.failureCount >= 4
	m.mu.Unlock()
	if m.reg != nil {
		m.reg.SendFailures.WithLabelValues(m.label).Inc()
	}
	m.log.Debug("send failure", slog.Uint64("member", uint64(m.socketID)), slog.Bool("broken", brokenThresholdReached))
	return brokenThresholdReached
}

// FailureCount returns the member's current consecutive-failure count.
func (m *Member) FailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureCount
}

// RecordReceive tallies a received packet's bytes.
func (m *Member) RecordReceive(payloadLen int) {
	m.mu.Lock()
	m.packetsRecv++
	m.bytesRecv += uint64(payloadLen)
	m.mu.Unlock()
	if m.reg != nil {
		m.reg.PacketsReceived.WithLabelValues(m.label).Inc()
		m.reg.BytesReceived.WithLabelValues(m.label).Add(float64(payloadLen))
	}
}

// OnAck updates in-flight and RTT after acked packets are acknowledged.
func (m *Member) OnAck(acked uint32, rttMicros uint32) {
	m.mu.Lock()
	if acked > m.inFlight {
		m.inFlight = 0
	} else {
		m.inFlight -= acked
	}
	if rttMicros > 0 {
		m.rttMicros = rttMicros
	}
	inFlight, rtt := m.inFlight, m.rttMicros
	m.mu.Unlock()
	if m.reg != nil {
		m.reg.InFlight.WithLabelValues(m.label).Set(float64(inFlight))
		if rttMicros > 0 {
			m.reg.RTTMicros.WithLabelValues(m.label).Set(float64(rtt))
		}
	}
}

// OnLoss updates the member's loss rate via EWMA (α=0.1) and decrements
// in-flight.
func (m *Member) OnLoss(lost uint32) {
	const alpha = 0.1
	m.mu.Lock()
	denom := m.inFlight
	if denom < 1 {
		denom = 1
	}
	sample := float64(lost) / float64(denom)
	m.lossRate = alpha*sample + (1-alpha)*m.lossRate
	if lost > m.inFlight {
		m.inFlight = 0
	} else {
		m.inFlight -= lost
	}
	inFlight := m.inFlight
	m.mu.Unlock()
	if m.reg != nil {
		m.reg.PacketsLost.WithLabelValues(m.label).Add(float64(lost))
		m.reg.InFlight.WithLabelValues(m.label).Set(float64(inFlight))
	}
	m.log.Trace("loss observed", slog.Uint64("member", uint64(m.socketID)), slog.Uint64("lost", uint64(lost)))
}

// MemberStats is a point-in-time snapshot of a member's counters.
type MemberStats struct {
	SocketID      uint32
	Status        MemberStatus
	Weight        float64
	FailureCount  int
	PacketsSent   uint64
	PacketsRecv   uint64
	BytesSent     uint64
	BytesRecv     uint64
	InFlight      uint32
	LossRate      float64
}

func (m *Member) snapshot() MemberStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemberStats{
		SocketID:     m.socketID,
		Status:       m.status,
		Weight:       m.weight,
		FailureCount: m.failureCount,
		PacketsSent:  m.packetsSent,
		PacketsRecv:  m.packetsRecv,
		BytesSent:    m.bytesSent,
		BytesRecv:    m.bytesRecv,
		InFlight:     m.inFlight,
		LossRate:     m.lossRate,
	}
}

// Group holds a set of members keyed by local socket id, under a
// reader/writer lock.
type Group struct {
	id         string
	kind       Kind
	maxMembers int
	reg        *stats.Registry
	log        lg.Logger

	mu      sync.RWMutex
	members map[uint32]*Member
	order   []uint32 // insertion order, for deterministic round-robin iteration
	nextSeq seq.Number
}

// New constructs an empty Group, identified by a generated id
// (github.com/rs/xid).
func New(kind Kind, maxMembers int, reg *stats.Registry) *Group {
	return &Group{
		id:         xid.New().String(),
		kind:       kind,
		maxMembers: maxMembers,
		reg:        reg,
		members:    make(map[uint32]*Member),
	}
}

// SetLogger attaches l as the group's logger; every member admitted
// afterward inherits it. A nil l discards log output, matching the
// Group's zero-value behavior.
func (g *Group) SetLogger(l *slog.Logger) {
	g.mu.Lock()
	g.log = lg.New(l)
	g.mu.Unlock()
}

// ID returns the group's generated identifier.
func (g *Group) ID() string { return g.id }

// Kind returns the group's bonding mode.
func (g *Group) Kind() Kind { return g.kind }

// AddMember admits a new member wrapping c, in StatusPending. Fails with
// GroupFull if the group is already at maxMembers.
func (g *Group) AddMember(c *conn.Connection) (*Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxMembers > 0 && len(g.members) >= g.maxMembers {
		return nil, &GroupFull{Max: g.maxMembers}
	}
	m := &Member{
		socketID: c.LocalSocketID(),
		conn:     c,
		status:   StatusPending,
		weight:   1,
		reg:      g.reg,
		label:    strconv.FormatUint(uint64(c.LocalSocketID()), 10),
		log:      g.log,
	}
	g.members[m.socketID] = m
	g.order = append(g.order, m.socketID)
	g.log.Debug("member added", slog.Uint64("member", uint64(m.socketID)), slog.String("group", g.id))
	return m, nil
}

// RemoveMember removes a member by socket id. A no-op if the member is
// already absent.
func (g *Group) RemoveMember(socketID uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[socketID]; !ok {
		return
	}
	delete(g.members, socketID)
	for i, id := range g.order {
		if id == socketID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.log.Debug("member removed", slog.Uint64("member", uint64(socketID)), slog.String("group", g.id))
}

// GetMember looks up a member by socket id.
func (g *Group) GetMember(socketID uint32) (*Member, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.members[socketID]
	if !ok {
		return nil, &MemberNotFound{SocketID: socketID}
	}
	return m, nil
}

// GetActiveMembers returns every member currently in StatusActive, in
// insertion order.
func (g *Group) GetActiveMembers() []*Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Member, 0, len(g.order))
	for _, id := range g.order {
		m := g.members[id]
		if m.Status() == StatusActive {
			out = append(out, m)
		}
	}
	return out
}

// AllMembers returns every member, in insertion order.
func (g *Group) AllMembers() []*Member {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Member, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.members[id])
	}
	return out
}

// UpdateMemberStatus sets a member's status by socket id.
func (g *Group) UpdateMemberStatus(socketID uint32, status MemberStatus) error {
	m, err := g.GetMember(socketID)
	if err != nil {
		return err
	}
	m.SetStatus(status)
	g.log.Debug("member status changed", slog.Uint64("member", uint64(socketID)), slog.Int("status", int(status)))
	return nil
}

// Stats is an aggregate snapshot of a Group's membership.
type Stats struct {
	TotalMembers  int
	ActiveMembers int
	IdleMembers   int
	BrokenMembers int
	Members       []MemberStats
}

// GetStats returns an aggregate snapshot of every member's status and
// counters.
func (g *Group) GetStats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.order
	members := g.members

	s := Stats{Members: make([]MemberStats, 0, len(ids))}
	for _, id := range ids {
		m, ok := members[id]
		if !ok {
			continue
		}
		snap := m.snapshot()
		s.Members = append(s.Members, snap)
		s.TotalMembers++
		switch snap.Status {
		case StatusActive:
			s.ActiveMembers++
		case StatusIdle:
			s.IdleMembers++
		case StatusBroken:
			s.BrokenMembers++
		}
	}
	return s
}

// CleanupBrokenMembers removes every member in StatusBroken and returns
// how many were removed.
func (g *Group) CleanupBrokenMembers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var removed int
	var kept []uint32
	for _, id := range g.order {
		m := g.members[id]
		if m.Status() == StatusBroken {
			delete(g.members, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	g.order = kept
	if removed > 0 {
		g.log.Debug("cleaned up broken members", slog.Int("removed", removed))
	}
	return removed
}

// NextSequence issues the next group-level sequence number, wrapping in
// SeqNumber space, linearizable under the group's own lock.
func (g *Group) NextSequence() seq.Number {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.nextSeq
	g.nextSeq = g.nextSeq.Next()
	return s
}

// Registry returns the Prometheus registry backing per-member metrics,
// or nil if none was configured.
func (g *Group) Registry() *stats.Registry { return g.reg }
