package sendbuf

import (
	"testing"
	"time"

	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newPkt(payload string) packet.DataPacket {
	return packet.DataPacket{
		Header:  packet.Header{MsgOrInfo: uint32(packet.NewMsgNumber(packet.BoundarySolo, true, packet.EncNone, false, 1))},
		Payload: []byte(payload),
	}
}

func TestPushAssignsSequence(t *testing.T) {
	b := New(8, seq.New(100), time.Second, fixedClock(time.Unix(0, 0)))
	s, err := b.Push(newPkt("a"))
	if err != nil {
		t.Fatal(err)
	}
	if s != seq.New(100) {
		t.Fatalf("seq = %v, want 100", s)
	}
	s2, err := b.Push(newPkt("b"))
	if err != nil {
		t.Fatal(err)
	}
	if s2 != seq.New(101) {
		t.Fatalf("seq2 = %v, want 101", s2)
	}
}

func TestGetForSendSetsRetransmitOnSecondSend(t *testing.T) {
	b := New(8, seq.New(0), time.Second, fixedClock(time.Unix(0, 0)))
	s, _ := b.Push(newPkt("x"))

	first, err := b.GetForSend(s)
	if err != nil {
		t.Fatal(err)
	}
	if packet.MsgNumber(first.Header.MsgOrInfo).Retransmitted() {
		t.Fatal("first send should not carry retransmit flag")
	}

	second, err := b.GetForSend(s)
	if err != nil {
		t.Fatal(err)
	}
	if !packet.MsgNumber(second.Header.MsgOrInfo).Retransmitted() {
		t.Fatal("second send should carry retransmit flag")
	}
}

func TestGetForSendNotFound(t *testing.T) {
	b := New(8, seq.New(0), time.Second, fixedClock(time.Unix(0, 0)))
	_, err := b.GetForSend(seq.New(5))
	if err != NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

// TestAcknowledgeAndFlush verifies that acknowledging and flushing
// advances oldest-in-buffer to match, and occupancy drops to zero.
func TestAcknowledgeAndFlush(t *testing.T) {
	b := New(8, seq.New(0), time.Second, fixedClock(time.Unix(0, 0)))
	var last seq.Number
	for i := 0; i < 5; i++ {
		last, _ = b.Push(newPkt("p"))
	}
	if got := b.Occupancy(); got != 5 {
		t.Fatalf("occupancy = %d, want 5", got)
	}

	b.AcknowledgeUpTo(last)
	if want := last.Next(); b.OldestUnacked() != want {
		t.Fatalf("oldestUnacked = %v, want %v", b.OldestUnacked(), want)
	}
	if got := b.Occupancy(); got != 0 {
		t.Fatalf("occupancy after full ack = %d, want 0", got)
	}

	n := b.FlushAcknowledged()
	if n != 5 {
		t.Fatalf("flushed = %d, want 5", n)
	}
	if _, err := b.GetForSend(seq.New(0)); err != NotFound {
		t.Fatal("flushed entry should no longer be retrievable")
	}
}

// TestAcknowledgeClampsToNextSeq implements the Open Question #2 fix:
// acknowledging a sequence ahead of next_seq must not desynchronize
// oldest-unacked from what has actually been sent.
func TestAcknowledgeClampsToNextSeq(t *testing.T) {
	b := New(8, seq.New(0), time.Second, fixedClock(time.Unix(0, 0)))
	b.Push(newPkt("p"))
	b.Push(newPkt("p"))

	b.AcknowledgeUpTo(seq.New(999))
	if b.OldestUnacked() != b.NextSeq() {
		t.Fatalf("oldestUnacked = %v, want clamp to nextSeq %v", b.OldestUnacked(), b.NextSeq())
	}
}

func TestPushFullAfterTTLSweepStillFull(t *testing.T) {
	now := time.Unix(0, 0)
	clock := &now
	b := New(2, seq.New(0), time.Second, func() time.Time { return *clock })
	b.Push(newPkt("a"))
	b.Push(newPkt("b"))

	_, err := b.Push(newPkt("c"))
	if err != Full {
		t.Fatalf("expected Full, got %v", err)
	}

	*clock = now.Add(2 * time.Second)
	s, err := b.Push(newPkt("d"))
	if err != nil {
		t.Fatalf("expected push to succeed after TTL sweep, got %v", err)
	}
	if s != seq.New(2) {
		t.Fatalf("seq = %v, want 2", s)
	}
}

func TestDropExpiredAdvancesOldestInBuffer(t *testing.T) {
	now := time.Unix(0, 0)
	clock := &now
	b := New(8, seq.New(0), time.Second, func() time.Time { return *clock })
	b.Push(newPkt("a"))
	b.Push(newPkt("b"))

	*clock = now.Add(2 * time.Second)
	n := b.DropExpired()
	if n != 2 {
		t.Fatalf("dropped = %d, want 2", n)
	}
	if _, err := b.GetForSend(seq.New(0)); err != NotFound {
		t.Fatal("expired entry should be gone")
	}
	if b.oldestInBuffer != seq.New(2) {
		t.Fatalf("oldestInBuffer = %v, want 2", b.oldestInBuffer)
	}
}
