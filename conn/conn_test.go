package conn

import (
	"testing"
	"time"

	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/seq"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestConn() *Connection {
	return New(Config{
		LocalSocketID:  1,
		InitialSeq:     seq.New(0),
		BufferCapacity: 64,
		MaxPacketSize:  16,
		MaxBandwidth:   10_000_000,
		Now:            fixedClock(time.Unix(0, 0)),
	})
}

func TestStateTransitionsHappyPath(t *testing.T) {
	c := newTestConn()
	if c.State() != StateInit {
		t.Fatalf("initial state = %v, want init", c.State())
	}
	if _, err := c.CreateHandshake(); err != nil {
		t.Fatalf("create_handshake: %v", err)
	}
	if c.State() != StateConnecting {
		t.Fatalf("state = %v, want connecting", c.State())
	}
	if err := c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2}); err != nil {
		t.Fatalf("process_handshake: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %v, want connected", c.State())
	}
	if c.PeerSocketID() != 2 {
		t.Fatalf("peer socket id = %d, want 2", c.PeerSocketID())
	}
}

func TestProcessHandshakeIdempotentWhenConnected(t *testing.T) {
	c := newTestConn()
	c.CreateHandshake()
	c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2})
	if err := c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 99}); err != nil {
		t.Fatalf("redelivered handshake while connected should be a no-op, got error: %v", err)
	}
	if c.PeerSocketID() != 2 {
		t.Fatalf("redelivered handshake should not change peer socket id, got %d", c.PeerSocketID())
	}
}

func TestSendRequiresConnected(t *testing.T) {
	c := newTestConn()
	if _, err := c.Send([]byte("hi")); err == nil {
		t.Fatal("expected InvalidState before handshake completes")
	}
}

func TestCloseRejectedFromInit(t *testing.T) {
	c := newTestConn()
	if err := c.Close(); err == nil {
		t.Fatal("expected InvalidState closing from Init")
	}
}

func TestCloseSequenceEmitsShutdownOnce(t *testing.T) {
	c := newTestConn()
	c.CreateHandshake()
	c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2})

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.State() != StateClosing {
		t.Fatalf("state = %v, want closing", c.State())
	}

	ctrl, ok := c.PendingShutdown()
	if !ok {
		t.Fatal("expected a pending shutdown packet")
	}
	if ctrl.Header.Type != packet.CtrlShutdown {
		t.Fatalf("control type = %v, want shutdown", ctrl.Header.Type)
	}
	if c.State() != StateClosed {
		t.Fatalf("state after shutdown sent = %v, want closed", c.State())
	}
	if _, ok := c.PendingShutdown(); ok {
		t.Fatal("shutdown should only be emitted once")
	}
}

func TestSendFragmentsLargeMessage(t *testing.T) {
	c := newTestConn()
	c.CreateHandshake()
	c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2})

	pkts, err := c.Send(make([]byte, 40)) // maxPacketSize=16 -> 3 chunks
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pkts) != 3 {
		t.Fatalf("got %d packets, want 3", len(pkts))
	}
	if pkts[0].Header.MsgNumber().Boundary() != packet.BoundaryFirst {
		t.Fatalf("first packet boundary = %v, want First", pkts[0].Header.MsgNumber().Boundary())
	}
	if pkts[1].Header.MsgNumber().Boundary() != packet.BoundarySubsequent {
		t.Fatalf("middle packet boundary = %v, want Subsequent", pkts[1].Header.MsgNumber().Boundary())
	}
	if pkts[2].Header.MsgNumber().Boundary() != packet.BoundaryLast {
		t.Fatalf("last packet boundary = %v, want Last", pkts[2].Header.MsgNumber().Boundary())
	}
	if pkts[0].Header.Seq != seq.New(0) || pkts[1].Header.Seq != seq.New(1) || pkts[2].Header.Seq != seq.New(2) {
		t.Fatalf("unexpected sequence assignment: %v %v %v", pkts[0].Header.Seq, pkts[1].Header.Seq, pkts[2].Header.Seq)
	}
}

func TestSendSoloForSmallMessage(t *testing.T) {
	c := newTestConn()
	c.CreateHandshake()
	c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2})

	pkts, err := c.Send([]byte("hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("got %d packets, want 1", len(pkts))
	}
	if pkts[0].Header.MsgNumber().Boundary() != packet.BoundarySolo {
		t.Fatalf("boundary = %v, want Solo", pkts[0].Header.MsgNumber().Boundary())
	}
}

func TestProcessDataPacketAndRecv(t *testing.T) {
	c := newTestConn()
	c.CreateHandshake()
	c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2})

	mn := packet.NewMsgNumber(packet.BoundarySolo, true, packet.EncNone, false, 1)
	pkt := packet.DataPacket{
		Header:  packet.Header{Seq: seq.New(0), MsgOrInfo: uint32(mn)},
		Payload: []byte("payload"),
	}
	if err := c.ProcessDataPacket(pkt); err != nil {
		t.Fatalf("process_data_packet: %v", err)
	}
	msg, ok := c.Recv()
	if !ok {
		t.Fatal("expected a ready message")
	}
	if string(msg) != "payload" {
		t.Fatalf("msg = %q, want %q", msg, "payload")
	}
}

func TestProcessAckAdvancesSendBuffer(t *testing.T) {
	c := newTestConn()
	c.CreateHandshake()
	c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2})
	c.Send([]byte("a"))
	c.Send([]byte("b"))

	c.ProcessAck(packet.AckFields{AckedSeq: seq.New(2), RTTMicros: 50_000}, 2)
	if c.send.OldestUnacked() != seq.New(2) {
		t.Fatalf("oldest unacked = %v, want 2", c.send.OldestUnacked())
	}
}

func TestProcessNakFeedsSenderLoss(t *testing.T) {
	c := newTestConn()
	c.CreateHandshake()
	c.ProcessHandshake(packet.Handshake{Version: packet.SupportedVersion, SocketID: 2})

	c.ProcessNak([]packet.NakRange{{Start: seq.New(3), End: seq.New(5)}})
	if c.SenderLoss().Empty() {
		t.Fatal("expected sender loss list to be populated")
	}
	s, ok := c.SenderLoss().PopNext()
	if !ok || s != seq.New(3) {
		t.Fatalf("popped %v, ok=%v, want 3", s, ok)
	}
}
