package broadcast

import (
	"context"
	"errors"
	"testing"

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

func newGroupWithMembers(ids ...uint32) *group.Group {
	g := group.New(group.KindBroadcast, 0, nil)
	for _, id := range ids {
		m, _ := g.AddMember(conn.New(conn.Config{LocalSocketID: id, InitialSeq: seq.New(0)}))
		m.SetStatus(group.StatusActive)
	}
	return g
}

func TestSendNoActiveMembers(t *testing.T) {
	g := group.New(group.KindBroadcast, 0, nil)
	s := NewSender(g)
	if _, err := s.Send(context.Background(), &fakeSink{}, []byte("x")); err != ErrNoActiveMembers {
		t.Fatalf("err = %v, want ErrNoActiveMembers", err)
	}
}

func TestSendAllSucceed(t *testing.T) {
	g := newGroupWithMembers(1, 2, 3)
	s := NewSender(g)
	res, err := s.Send(context.Background(), &fakeSink{}, []byte("x"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Attempted != 3 || res.Succeeded != 3 || len(res.FailedMembers) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendAllFailReturnsAllPathsFailed(t *testing.T) {
	g := newGroupWithMembers(1, 2)
	sink := &fakeSink{fail: map[uint32]bool{1: true, 2: true}}
	s := NewSender(g)
	if _, err := s.Send(context.Background(), sink, []byte("x")); err != ErrAllPathsFailed {
		t.Fatalf("err = %v, want ErrAllPathsFailed", err)
	}
}

func TestRepeatedFailureMarksMemberBroken(t *testing.T) {
	g := newGroupWithMembers(1, 2)
	sink := &fakeSink{fail: map[uint32]bool{1: true}}
	s := NewSender(g)
	for i := 0; i < 4; i++ {
		s.Send(context.Background(), sink, []byte("x"))
	}
	m, _ := g.GetMember(1)
	if m.Status() != group.StatusBroken {
		t.Fatalf("status = %v, want Broken after 4 consecutive failures", m.Status())
	}
}

// TestDuplicateSuppression checks that the same sequence delivered by
// three members yields exactly one ready message and
// duplicates_detected == N-1.
func TestDuplicateSuppression(t *testing.T) {
	r := NewReceiver(1024)
	s := seq.New(1000)

	ok1, err := r.OnPacketReceived(s, []byte("dup"), 1)
	if !ok1 || err != nil {
		t.Fatalf("first arrival: ok=%v err=%v", ok1, err)
	}
	if _, err := r.OnPacketReceived(s, []byte("dup"), 2); err != ErrDuplicatePacket {
		t.Fatalf("second arrival err = %v, want ErrDuplicatePacket", err)
	}
	if _, err := r.OnPacketReceived(s, []byte("dup"), 3); err != ErrDuplicatePacket {
		t.Fatalf("third arrival err = %v, want ErrDuplicatePacket", err)
	}

	if r.ReadyCount() != 1 {
		t.Fatalf("ready count = %d, want 1", r.ReadyCount())
	}
	if r.DuplicatesDetected() != 2 {
		t.Fatalf("duplicates detected = %d, want 2", r.DuplicatesDetected())
	}
}

func TestOutOfOrderDeliveryDrainsWhenGapFills(t *testing.T) {
	r := NewReceiver(1024)
	r.OnPacketReceived(seq.New(0), []byte("p0"), 1)
	r.OnPacketReceived(seq.New(2), []byte("p2"), 1)
	if r.ReadyCount() != 1 {
		t.Fatalf("ready count = %d, want 1 (only p0 contiguous)", r.ReadyCount())
	}
	r.OnPacketReceived(seq.New(1), []byte("p1"), 1)
	if r.ReadyCount() != 3 {
		t.Fatalf("ready count = %d, want 3 after gap fills", r.ReadyCount())
	}
	for i, want := range []string{"p0", "p1", "p2"} {
		msg, ok := r.PopReady()
		if !ok || string(msg) != want {
			t.Fatalf("pop %d = %q, ok=%v, want %q", i, msg, ok, want)
		}
	}
}

func TestReceiverDropsSilentlyWhenBufferFull(t *testing.T) {
	r := NewReceiver(1)
	r.OnPacketReceived(seq.New(5), []byte("held"), 1) // not deliverable yet (gap at 0..4)
	ok, err := r.OnPacketReceived(seq.New(6), []byte("dropped"), 1)
	if ok || err != nil {
		t.Fatalf("expected silent drop: ok=%v err=%v", ok, err)
	}
}
