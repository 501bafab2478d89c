package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srtlab/srtgo/conn"
	"github.com/srtlab/srtgo/group"
	"github.com/srtlab/srtgo/seq"
)

type fakeSink struct {
	fail map[uint32]bool
}

func (f *fakeSink) WriteDatagram(ctx context.Context, destSocketID uint32, payload []byte) error {
	if f.fail[destSocketID] {
		return errors.New("write failed")
	}
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newGroupWithMembers(ids ...uint32) *group.Group {
	g := group.New(group.KindBackup, 0, nil)
	for _, id := range ids {
		g.AddMember(conn.New(conn.Config{LocalSocketID: id, InitialSeq: seq.New(0)}))
	}
	return g
}

func TestSetPrimaryAndAddBackup(t *testing.T) {
	g := newGroupWithMembers(1, 2)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))

	if err := b.SetPrimary(1); err != nil {
		t.Fatalf("set_primary: %v", err)
	}
	if err := b.AddBackup(2); err != nil {
		t.Fatalf("add_backup: %v", err)
	}
	id, ok := b.PrimaryID()
	if !ok || id != 1 {
		t.Fatalf("primary id = %d, ok=%v, want 1", id, ok)
	}
	if backups := b.BackupIDs(); len(backups) != 1 || backups[0] != 2 {
		t.Fatalf("backups = %v, want [2]", backups)
	}
}

func TestSendNoPrimary(t *testing.T) {
	g := newGroupWithMembers(1)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))
	if err := b.Send(context.Background(), &fakeSink{}, []byte("x")); err != ErrNoPrimary {
		t.Fatalf("err = %v, want ErrNoPrimary", err)
	}
}

// TestBackupFailoverOnSendFailure checks that with primary=1, backup=2,
// marking 1 Broken and sending fails over to 2 with reason PrimaryFailed
// and a failover history length of 1.
func TestBackupFailoverOnSendFailure(t *testing.T) {
	g := newGroupWithMembers(1, 2)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))
	b.SetPrimary(1)
	b.AddBackup(2)

	sink := &fakeSink{fail: map[uint32]bool{1: true}}
	if err := b.Send(context.Background(), sink, []byte("x")); err != nil {
		t.Fatalf("send after failover should succeed on new primary: %v", err)
	}

	id, ok := b.PrimaryID()
	if !ok || id != 2 {
		t.Fatalf("primary after failover = %d, ok=%v, want 2", id, ok)
	}
	history := b.FailoverHistory()
	if len(history) != 1 {
		t.Fatalf("failover history length = %d, want 1", len(history))
	}
	if history[0].Reason != ReasonPrimaryFailed || history[0].OldPrimary != 1 || history[0].NewPrimary != 2 {
		t.Fatalf("unexpected failover event: %+v", history[0])
	}

	m1, _ := g.GetMember(1)
	if m1.Status() != group.StatusBroken {
		t.Fatalf("old primary status = %v, want Broken", m1.Status())
	}
}

func TestSendAllMembersFailed(t *testing.T) {
	g := newGroupWithMembers(1, 2)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))
	b.SetPrimary(1)
	b.AddBackup(2)

	sink := &fakeSink{fail: map[uint32]bool{1: true, 2: true}}
	if err := b.Send(context.Background(), sink, []byte("x")); err != ErrAllMembersFailed {
		t.Fatalf("err = %v, want ErrAllMembersFailed", err)
	}
}

func TestFailoverNoBackupAvailable(t *testing.T) {
	g := newGroupWithMembers(1)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))
	b.SetPrimary(1)

	sink := &fakeSink{fail: map[uint32]bool{1: true}}
	if err := b.Send(context.Background(), sink, []byte("x")); err != ErrNoBackup {
		t.Fatalf("err = %v, want ErrNoBackup", err)
	}
}

func TestManualFailover(t *testing.T) {
	g := newGroupWithMembers(1, 2)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))
	b.SetPrimary(1)
	b.AddBackup(2)

	if err := b.ManualFailover(2); err != nil {
		t.Fatalf("manual_failover: %v", err)
	}
	id, _ := b.PrimaryID()
	if id != 2 {
		t.Fatalf("primary = %d, want 2", id)
	}
	if len(b.FailoverHistory()) != 1 || b.FailoverHistory()[0].Reason != ReasonManual {
		t.Fatalf("expected one Manual failover event, got %+v", b.FailoverHistory())
	}
	m1, _ := g.GetMember(1)
	if m1.Status() != group.StatusIdle {
		t.Fatalf("old primary status = %v, want Idle (not Broken, for manual failover)", m1.Status())
	}
}

func TestManualFailoverRejectsNonBackup(t *testing.T) {
	g := newGroupWithMembers(1, 2)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))
	b.SetPrimary(1)
	if err := b.ManualFailover(2); err != ErrNotABackup {
		t.Fatalf("err = %v, want ErrNotABackup", err)
	}
}

func TestHealthCheckThrottled(t *testing.T) {
	now := time.Unix(0, 0)
	clock := &now
	g := newGroupWithMembers(1, 2)
	b := New(g, time.Second, 3, func() time.Time { return *clock })
	b.SetPrimary(1)
	b.AddBackup(2)

	healthy, err := b.HealthCheck()
	if err != nil || !healthy {
		t.Fatalf("first health check: healthy=%v err=%v", healthy, err)
	}

	// Primary now degraded, but check immediately after should be throttled.
	m1, _ := g.GetMember(1)
	for i := 0; i < 5; i++ {
		m1.RecordSendFailure()
	}
	healthy, err = b.HealthCheck()
	if err != nil || !healthy {
		t.Fatalf("throttled health check should report healthy without re-evaluating: healthy=%v err=%v", healthy, err)
	}
}

// TestFailoverMonotonicity checks that after any failover sequence, the
// current primary is never Broken, and the failover history length
// equals the number of primary transitions.
func TestFailoverMonotonicity(t *testing.T) {
	g := newGroupWithMembers(1, 2, 3)
	b := New(g, time.Second, 3, fixedClock(time.Unix(0, 0)))
	b.SetPrimary(1)
	b.AddBackup(2)
	b.AddBackup(3)

	sink := &fakeSink{fail: map[uint32]bool{1: true}}
	b.Send(context.Background(), sink, []byte("x")) // 1 fails over to 2

	sink2 := &fakeSink{fail: map[uint32]bool{2: true}}
	b.Send(context.Background(), sink2, []byte("x")) // 2 fails over to 3

	id, _ := b.PrimaryID()
	m, _ := g.GetMember(id)
	if m.Status() == group.StatusBroken {
		t.Fatal("current primary must never be Broken")
	}
	if len(b.FailoverHistory()) != 2 {
		t.Fatalf("failover history length = %d, want 2", len(b.FailoverHistory()))
	}
}
