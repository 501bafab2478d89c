package recvbuf

import (
	"bytes"
	"testing"

	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

func soloPkt(s uint32, payload string) packet.DataPacket {
	return packet.DataPacket{
		Header: packet.Header{
			Seq:       seq.New(s),
			MsgOrInfo: uint32(packet.NewMsgNumber(packet.BoundarySolo, true, packet.EncNone, false, s)),
		},
		Payload: []byte(payload),
	}
}

func msgPkt(s uint32, b packet.Boundary, msgSeq uint32, payload string) packet.DataPacket {
	return packet.DataPacket{
		Header: packet.Header{
			Seq:       seq.New(s),
			MsgOrInfo: uint32(packet.NewMsgNumber(b, true, packet.EncNone, false, msgSeq)),
		},
		Payload: []byte(payload),
	}
}

// TestInOrderDeliveryAnyArrivalOrder checks that whatever order a
// contiguous window of packets arrives in, the popped message sequence
// is the in-order concatenation by message.
func TestInOrderDeliveryAnyArrivalOrder(t *testing.T) {
	pkts := []packet.DataPacket{
		soloPkt(0, "a"),
		msgPkt(1, packet.BoundaryFirst, 7, "b1"),
		msgPkt(2, packet.BoundarySubsequent, 7, "b2"),
		msgPkt(3, packet.BoundaryLast, 7, "b3"),
		soloPkt(4, "c"),
	}
	arrival := []int{3, 1, 4, 0, 2} // shuffled, still a valid delivery order.

	b := New(16, seq.New(0))
	for _, i := range arrival {
		if err := b.Push(pkts[i]); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	want := []string{"a", "b1b2b3", "c"}
	for _, w := range want {
		got, ok := b.PopReady()
		if !ok {
			t.Fatalf("expected message %q, got none", w)
		}
		if string(got) != w {
			t.Fatalf("got %q, want %q", got, w)
		}
	}
	if _, ok := b.PopReady(); ok {
		t.Fatal("unexpected extra message")
	}
}

func TestDuplicateAndStaleDropped(t *testing.T) {
	b := New(16, seq.New(0))
	if err := b.Push(soloPkt(0, "a")); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.PopReady(); !ok {
		t.Fatal("expected message a")
	}
	// Stale: seq already passed.
	if err := b.Push(soloPkt(0, "stale")); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.PopReady(); ok {
		t.Fatal("stale packet should not produce a message")
	}
	// Duplicate of a message already delivered but not yet popped.
	if err := b.Push(soloPkt(1, "b")); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(soloPkt(1, "b-dup")); err != nil {
		t.Fatal(err)
	}
	got, _ := b.PopReady()
	if string(got) != "b" {
		t.Fatalf("got %q, want first-seen payload %q", got, "b")
	}
}

func TestOutOfRange(t *testing.T) {
	b := New(4, seq.New(0))
	err := b.Push(soloPkt(100, "far"))
	var e *OutOfRange
	if err == nil {
		t.Fatal("expected OutOfRange")
	}
	if !errorsAsOutOfRange(err, &e) {
		t.Fatalf("expected *OutOfRange, got %T", err)
	}
}

func errorsAsOutOfRange(err error, target **OutOfRange) bool {
	v, ok := err.(*OutOfRange)
	if !ok {
		return false
	}
	*target = v
	return true
}

func TestOrphanDropAdvancesAndCounts(t *testing.T) {
	b := New(16, seq.New(0))
	// seq 0 arrives as a bare Subsequent: no preceding First ever sent.
	if err := b.Push(msgPkt(0, packet.BoundarySubsequent, 9, "orphan")); err != nil {
		t.Fatal(err)
	}
	if b.DroppedOrphans != 1 {
		t.Fatalf("DroppedOrphans = %d, want 1", b.DroppedOrphans)
	}
	if b.NextExpected() != seq.New(1) {
		t.Fatalf("nextExpected = %v, want 1", b.NextExpected())
	}
	if err := b.Push(soloPkt(1, "ok")); err != nil {
		t.Fatal(err)
	}
	got, ok := b.PopReady()
	if !ok || string(got) != "ok" {
		t.Fatalf("got %q, %v", got, ok)
	}
}

func TestLossListReportsGaps(t *testing.T) {
	b := New(16, seq.New(0))
	b.Push(soloPkt(0, "a"))
	b.Push(soloPkt(5, "f"))

	loss := b.LossList()
	want := []seq.Number{seq.New(2), seq.New(3), seq.New(4)}
	if len(loss) != len(want) {
		t.Fatalf("loss list = %v, want %v", loss, want)
	}
	for i := range want {
		if loss[i] != want[i] {
			t.Fatalf("loss[%d] = %v, want %v", i, loss[i], want[i])
		}
	}
}

func TestReassemblyWaitsOnGap(t *testing.T) {
	b := New(16, seq.New(0))
	b.Push(msgPkt(0, packet.BoundaryFirst, 1, "x"))
	b.Push(msgPkt(2, packet.BoundaryLast, 1, "z")) // seq 1 (Subsequent) missing.
	if _, ok := b.PopReady(); ok {
		t.Fatal("should not assemble message with a gap")
	}
	b.Push(msgPkt(1, packet.BoundarySubsequent, 1, "y"))
	got, ok := b.PopReady()
	if !ok {
		t.Fatal("expected message once gap fills")
	}
	if !bytes.Equal(got, []byte("xyz")) {
		t.Fatalf("got %q, want %q", got, "xyz")
	}
}
