// Package backup implements SRT bonding's backup mode: one active
// primary member, an ordered list of standby backups, and automatic
// failover on send failure or a throttled health check.
package backup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/srtlab/srtgo/group"
	"github.com/srtlab/srtgo/internal/lg"
	"github.com/srtlab/srtgo/transport"
)

// ErrNoPrimary is returned when an operation requires a primary member
// but none is configured.
var ErrNoPrimary = errors.New("backup: no primary member configured")

// ErrNoBackup is returned by failover when no Idle backup is available
// to promote.
var ErrNoBackup = errors.New("backup: no backup members available")

// ErrAllMembersFailed is returned by Send when both the original primary
// and the failover target fail.
var ErrAllMembersFailed = errors.New("backup: all members failed")

// ErrNotABackup is returned by ManualFailover when the requested member
// is not in the backup list.
var ErrNotABackup = errors.New("backup: member is not a registered backup")

// Reason names why a failover occurred.
type Reason uint8

const (
	ReasonPrimaryFailed Reason = iota
	ReasonQualityDegraded
	ReasonManual
)

// FailoverEvent records one primary transition.
type FailoverEvent struct {
	Timestamp  time.Time
	OldPrimary uint32
	NewPrimary uint32
	Reason     Reason
}

// Bonding manages a primary/backup member set over a Group.
type Bonding struct {
	g *group.Group

	mu                  sync.Mutex
	primaryID           uint32
	hasPrimary          bool
	backupIDs           []uint32
	failoverHistory     []FailoverEvent
	healthCheckInterval time.Duration
	lastHealthCheck     time.Time
	failureThreshold    int
	now                 func() time.Time
	log                 lg.Logger
}

// SetLogger attaches l as the bonding's logger.
func (b *Bonding) SetLogger(l *slog.Logger) {
	b.mu.Lock()
	b.log = lg.New(l)
	b.mu.Unlock()
}

// New constructs a Bonding over g.
func New(g *group.Group, healthCheckInterval time.Duration, failureThreshold int, now func() time.Time) *Bonding {
	if now == nil {
		now = time.Now
	}
	return &Bonding{
		g:                   g,
		healthCheckInterval: healthCheckInterval,
		failureThreshold:    failureThreshold,
		now:                 now,
		lastHealthCheck:     now(),
	}
}

// SetPrimary demotes the prior primary to Idle (if any) and marks id
// Active as the new primary.
func (b *Bonding) SetPrimary(id uint32) error {
	if _, err := b.g.GetMember(id); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setPrimaryLocked(id)
}

func (b *Bonding) setPrimaryLocked(id uint32) error {
	if b.hasPrimary {
		if err := b.g.UpdateMemberStatus(b.primaryID, group.StatusIdle); err != nil {
			return err
		}
	}
	if err := b.g.UpdateMemberStatus(id, group.StatusActive); err != nil {
		return err
	}
	b.primaryID = id
	b.hasPrimary = true
	return nil
}

// AddBackup registers id as a standby backup, marking it Idle. A no-op if
// already registered.
func (b *Bonding) AddBackup(id uint32) error {
	if _, err := b.g.GetMember(id); err != nil {
		return err
	}
	if err := b.g.UpdateMemberStatus(id, group.StatusIdle); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.backupIDs {
		if existing == id {
			return nil
		}
	}
	b.backupIDs = append(b.backupIDs, id)
	return nil
}

// PrimaryID returns the current primary's socket id, if any.
func (b *Bonding) PrimaryID() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primaryID, b.hasPrimary
}

// BackupIDs returns the ordered backup list.
func (b *Bonding) BackupIDs() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint32, len(b.backupIDs))
	copy(out, b.backupIDs)
	return out
}

// Send submits data on the primary; on failure it fails over once and
// retries on the new primary. A second failure returns
// ErrAllMembersFailed.
//
// Send reports that data was committed to the transport, not that it was
// delivered: a successful return means the datagram sink accepted the
// write, which for a UDP-backed Sink says nothing about the peer actually
// receiving it.
func (b *Bonding) Send(ctx context.Context, sink transport.Sink, data []byte) error {
	b.mu.Lock()
	if !b.hasPrimary {
		b.mu.Unlock()
		return ErrNoPrimary
	}
	primaryID := b.primaryID
	b.mu.Unlock()

	m, err := b.g.GetMember(primaryID)
	if err != nil {
		return ErrNoPrimary
	}

	if err := sink.WriteDatagram(ctx, primaryID, data); err == nil {
		m.RecordSendSuccess(len(data))
		b.g.NextSequence()
		return nil
	}

	if err := b.failover(primaryID, ReasonPrimaryFailed); err != nil {
		return err
	}

	b.mu.Lock()
	newPrimaryID := b.primaryID
	b.mu.Unlock()
	newMember, err := b.g.GetMember(newPrimaryID)
	if err != nil {
		return ErrNoPrimary
	}
	if err := sink.WriteDatagram(ctx, newPrimaryID, data); err != nil {
		return ErrAllMembersFailed
	}
	newMember.RecordSendSuccess(len(data))
	b.g.NextSequence()
	return nil
}

// failover marks failedPrimary Broken, promotes the first Idle backup,
// and records a FailoverEvent. The current primary is never Broken
// after a failover completes.
func (b *Bonding) failover(failedPrimary uint32, reason Reason) error {
	if err := b.g.UpdateMemberStatus(failedPrimary, group.StatusBroken); err != nil {
		return err
	}
	if reg := b.g.Registry(); reg != nil {
		reg.Failovers.Inc()
	}

	b.mu.Lock()
	var candidate uint32
	found := false
	var remaining []uint32
	for _, id := range b.backupIDs {
		if !found {
			if m, err := b.g.GetMember(id); err == nil && m.Status() == group.StatusIdle {
				candidate = id
				found = true
				continue
			}
		}
		remaining = append(remaining, id)
	}
	if !found {
		b.mu.Unlock()
		b.log.Error("failover found no idle backup", slog.Uint64("failed_primary", uint64(failedPrimary)))
		return ErrNoBackup
	}
	b.backupIDs = remaining
	// The failed primary stays Broken: clearing hasPrimary keeps
	// SetPrimary from demoting it to Idle.
	b.hasPrimary = false
	b.mu.Unlock()

	if err := b.SetPrimary(candidate); err != nil {
		return err
	}

	event := FailoverEvent{
		Timestamp:  b.now(),
		OldPrimary: failedPrimary,
		NewPrimary: candidate,
		Reason:     reason,
	}
	b.mu.Lock()
	b.failoverHistory = append(b.failoverHistory, event)
	b.mu.Unlock()
	b.log.Debug("failed over", slog.Uint64("old_primary", uint64(failedPrimary)), slog.Uint64("new_primary", uint64(candidate)))
	return nil
}

// HealthCheck is throttled by healthCheckInterval: if the primary's
// failure count has reached the threshold or its status is no longer
// Active, it triggers a failover.
func (b *Bonding) HealthCheck() (healthy bool, err error) {
	b.mu.Lock()
	if b.now().Sub(b.lastHealthCheck) < b.healthCheckInterval {
		b.mu.Unlock()
		return true, nil
	}
	b.lastHealthCheck = b.now()
	if !b.hasPrimary {
		b.mu.Unlock()
		return false, nil
	}
	primaryID := b.primaryID
	b.mu.Unlock()

	m, err := b.g.GetMember(primaryID)
	if err != nil {
		return false, nil
	}

	if m.FailureCount() >= b.failureThreshold {
		return false, b.failover(primaryID, ReasonQualityDegraded)
	}
	if m.Status() != group.StatusActive {
		return false, b.failover(primaryID, ReasonPrimaryFailed)
	}
	return true, nil
}

// ManualFailover promotes id (which must already be a registered backup)
// to primary, demoting the current primary into the backup list.
func (b *Bonding) ManualFailover(id uint32) error {
	b.mu.Lock()
	if !b.hasPrimary {
		b.mu.Unlock()
		return ErrNoPrimary
	}
	oldPrimary := b.primaryID
	isBackup := false
	for _, existing := range b.backupIDs {
		if existing == id {
			isBackup = true
			break
		}
	}
	b.mu.Unlock()
	if !isBackup {
		return ErrNotABackup
	}

	if err := b.g.UpdateMemberStatus(oldPrimary, group.StatusIdle); err != nil {
		return err
	}
	b.mu.Lock()
	b.backupIDs = append(b.backupIDs, oldPrimary)
	b.mu.Unlock()

	if err := b.SetPrimary(id); err != nil {
		return err
	}
	b.mu.Lock()
	var remaining []uint32
	for _, existing := range b.backupIDs {
		if existing != id {
			remaining = append(remaining, existing)
		}
	}
	b.backupIDs = remaining
	b.failoverHistory = append(b.failoverHistory, FailoverEvent{
		Timestamp:  b.now(),
		OldPrimary: oldPrimary,
		NewPrimary: id,
		Reason:     ReasonManual,
	})
	b.mu.Unlock()
	return nil
}

// FailoverHistory returns every recorded failover event, in order.
func (b *Bonding) FailoverHistory() []FailoverEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FailoverEvent, len(b.failoverHistory))
	copy(out, b.failoverHistory)
	return out
}
