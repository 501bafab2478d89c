// Package conn implements the Connection facade: the state machine that
// owns a send buffer, receive buffer, sender/receiver loss lists,
// ACK/NAK/RTT generators and the congestion controller, and exposes the
// handshake and data-path operations the rest of the module drives.
// CreateHandshake, ProcessHandshake, Send, ProcessDataPacket and Close
// validate the current state before touching any buffer they guard;
// ProcessAck and ProcessNak do not check the state. Close arms a single pending Shutdown control packet,
// since SRT's close sequence needs no FIN/ACK dance.
package conn

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/srtlab/srtgo/ackrtt"
	"github.com/srtlab/srtgo/congestion"
	"github.com/srtlab/srtgo/internal/lg"
	"github.com/srtlab/srtgo/loss"
	"github.com/srtlab/srtgo/packet"
	"github.com/srtlab/srtgo/recvbuf"
	"github.com/srtlab/srtgo/sendbuf"
	"github.com/srtlab/srtgo/seq"
)

// State is a Connection's position in its lifecycle state table.
type State uint8

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String names a State.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config bundles the parameters a Connection needs at construction,
// mirroring the handshake fields it will eventually negotiate.
type Config struct {
	LocalSocketID  uint32
	InitialSeq     seq.Number
	PeerAddress    [16]byte
	Capabilities   packet.Capability
	LatencyMs      uint16
	SendTTL        time.Duration
	BufferCapacity int
	MaxPacketSize  int
	MaxBandwidth   uint64
	FlowWindow     uint32
	AckInterval    time.Duration
	NakInterval    time.Duration
	MaxNakCount    uint32
	Now            func() time.Time
}

// newLocalSocketID derives a connection-scoped identifier: a globally
// unique value rather than a caller-managed counter, via
// github.com/rs/xid.
func newLocalSocketID() uint32 {
	id := xid.New()
	b := id.Bytes()
	return uint32(b[8])<<24 | uint32(b[9])<<16 | uint32(b[10])<<8 | uint32(b[11])
}

// Connection is the facade over the send/receive buffers, the loss
// lists, and the congestion controller. Not safe for concurrent use; the
// owning task serializes access under a single-threaded-per-connection
// scheduling model.
type Connection struct {
	cfg   Config
	state State

	peerSocketID uint32
	negotiated   packet.Capability
	hasPeer      bool

	send *sendbuf.Buffer
	recv *recvbuf.Buffer

	senderLoss   *loss.SenderList
	receiverLoss *loss.ReceiverList

	ackGen *ackrtt.Generator
	nakGen *ackrtt.NakGenerator
	rtt    *ackrtt.Estimator

	cc *congestion.Controller

	msgSeqCounter uint32

	pendingShutdown bool
	shutdownSent    bool

	streamSalt    [packet.SaltSize]byte
	hasStreamSalt bool

	now func() time.Time
	log lg.Logger
}

// New constructs a Connection in StateInit. If cfg.LocalSocketID is zero,
// one is generated via xid.
func New(cfg Config) *Connection {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LocalSocketID == 0 {
		cfg.LocalSocketID = newLocalSocketID()
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 4096
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = packet.MaxPayload
	}
	if cfg.AckInterval <= 0 {
		cfg.AckInterval = 10 * time.Millisecond
	}
	if cfg.NakInterval <= 0 {
		cfg.NakInterval = 20 * time.Millisecond
	}
	if cfg.MaxNakCount == 0 {
		cfg.MaxNakCount = 8
	}
	if cfg.FlowWindow == 0 {
		cfg.FlowWindow = 8192
	}

	return &Connection{
		cfg:          cfg,
		state:        StateInit,
		send:         sendbuf.New(cfg.BufferCapacity, cfg.InitialSeq, cfg.SendTTL, cfg.Now),
		recv:         recvbuf.New(cfg.BufferCapacity, cfg.InitialSeq),
		senderLoss:   loss.NewSenderList(cfg.Now),
		receiverLoss: loss.NewReceiverList(cfg.MaxNakCount, cfg.NakInterval, cfg.Now),
		ackGen:       ackrtt.NewGenerator(cfg.AckInterval, cfg.Now),
		nakGen:       ackrtt.NewNakGenerator(cfg.NakInterval, cfg.Now),
		rtt:          ackrtt.NewEstimator(),
		cc:           congestion.NewController(cfg.MaxBandwidth, cfg.MaxPacketSize, cfg.FlowWindow, cfg.Now),
		now:          cfg.Now,
	}
}

// SetLogger attaches l as the connection's logger. A nil l discards log
// output, matching the Connection's zero-value behavior.
func (c *Connection) SetLogger(l *slog.Logger) { c.log = lg.New(l) }

// State returns the connection's current state.
func (c *Connection) State() State { return c.state }

// LocalSocketID returns the connection's local socket identifier.
func (c *Connection) LocalSocketID() uint32 { return c.cfg.LocalSocketID }

// PeerSocketID returns the peer's socket identifier, valid once
// ProcessHandshake has run.
func (c *Connection) PeerSocketID() uint32 { return c.peerSocketID }

// CreateHandshake builds this side's handshake record and transitions
// Init -> Connecting.
func (c *Connection) CreateHandshake() (packet.Handshake, error) {
	if c.state != StateInit {
		return packet.Handshake{}, &InvalidState{Op: "create_handshake", State: c.state}
	}
	hs := packet.Handshake{
		Version:       packet.SupportedVersion,
		SocketType:    packet.StreamSocketType,
		InitialSeq:    c.cfg.InitialSeq,
		MaxPacketSize: uint32(c.cfg.MaxPacketSize),
		MaxFlowWindow: c.cfg.FlowWindow,
		Kind:          packet.KindInduction,
		SocketID:      c.cfg.LocalSocketID,
		PeerAddress:   c.cfg.PeerAddress,
		Extension: &packet.Extension{
			SRTVersion:        packet.SRTVersion,
			Flags:             c.cfg.Capabilities,
			LatencyReceiverMs: c.cfg.LatencyMs,
			LatencySenderMs:   c.cfg.LatencyMs,
		},
	}
	c.state = StateConnecting
	return hs, nil
}

// ProcessHandshake consumes a peer's handshake record. Valid only in
// Init or Connecting; idempotent once Connected (a redelivered handshake
// makes no further state change).
func (c *Connection) ProcessHandshake(hs packet.Handshake) error {
	switch c.state {
	case StateConnected:
		return nil
	case StateInit, StateConnecting:
	default:
		return &InvalidState{Op: "process_handshake", State: c.state}
	}
	if hs.Version != packet.SupportedVersion {
		return &packet.IncompatibleVersion{Peer: hs.Version}
	}
	c.peerSocketID = hs.SocketID
	c.hasPeer = true
	if hs.Extension != nil {
		c.negotiated = packet.Negotiate(c.cfg.Capabilities, hs.Extension.Flags)
	} else {
		c.negotiated = 0
	}
	if hs.MaxFlowWindow > 0 {
		c.cc.UpdateFlowWindow(hs.MaxFlowWindow)
	}
	if c.negotiated.Has(packet.CapEncryption) {
		salt, err := packet.DeriveStreamSalt(c.cfg.InitialSeq, hs.InitialSeq, c.cfg.LocalSocketID, hs.SocketID)
		if err != nil {
			c.log.Error("stream salt derivation failed", slog.String("err", err.Error()))
			return err
		}
		c.streamSalt = salt
		c.hasStreamSalt = true
	}
	c.state = StateConnected
	return nil
}

// StreamSalt returns the per-connection stream salt derived during
// handshake conclusion when both peers negotiated CapEncryption, and
// whether one was derived.
func (c *Connection) StreamSalt() ([packet.SaltSize]byte, bool) {
	return c.streamSalt, c.hasStreamSalt
}

// Negotiated returns the AND of local and peer capabilities, valid once
// Connected.
func (c *Connection) Negotiated() packet.Capability { return c.negotiated }

// Send enqueues data for delivery. Requires Connected. Data longer than
// the configured max packet size is fragmented into First/Subsequent/Last
// boundary packets; data that fits in one packet is sent Solo. Returns
// the data packets to hand to the transport layer, each already carrying
// a sequence number assigned by the send buffer.
func (c *Connection) Send(data []byte) ([]packet.DataPacket, error) {
	if c.state != StateConnected {
		return nil, &InvalidState{Op: "send", State: c.state}
	}
	if !c.cc.CanSend() {
		return nil, ErrCongestionWindowFull
	}

	chunks := fragment(data, c.cfg.MaxPacketSize)
	c.msgSeqCounter++
	msgSeq := c.msgSeqCounter & 0x3FFFFFF

	out := make([]packet.DataPacket, 0, len(chunks))
	for i, chunk := range chunks {
		boundary := packet.BoundarySubsequent
		switch {
		case len(chunks) == 1:
			boundary = packet.BoundarySolo
		case i == 0:
			boundary = packet.BoundaryFirst
		case i == len(chunks)-1:
			boundary = packet.BoundaryLast
		}

		mn := packet.NewMsgNumber(boundary, true, packet.EncNone, false, msgSeq)
		pkt := packet.DataPacket{
			Header: packet.Header{
				MsgOrInfo:    uint32(mn),
				Timestamp:    uint32(c.now().UnixMicro()),
				DestSocketID: c.peerSocketID,
			},
			Payload: chunk,
		}
		assigned, err := c.send.Push(pkt)
		if err != nil {
			return out, err
		}
		pkt.Header.Seq = assigned
		c.cc.OnPacketSent()
		out = append(out, pkt)
	}
	return out, nil
}

// ErrCongestionWindowFull is returned by Send when the congestion
// controller's effective window is exhausted.
var ErrCongestionWindowFull = errors.New("conn: congestion window full")

// GetForRetransmit fetches a previously-sent packet for retransmission,
// stamping its retransmit flag. Callers typically drive this from
// senderLoss.PopNext via a retransmit timer.
func (c *Connection) GetForRetransmit(s seq.Number) (packet.DataPacket, error) {
	return c.send.GetForSend(s)
}

// SenderLoss exposes the sender-side loss list so a retransmit timer can
// drain it.
func (c *Connection) SenderLoss() *loss.SenderList { return c.senderLoss }

// ProcessDataPacket routes an incoming data packet to the receive buffer
// and folds any newly-detected gaps into the receiver loss list. Valid
// only while Connected.
func (c *Connection) ProcessDataPacket(pkt packet.DataPacket) error {
	if c.state != StateConnected {
		return &InvalidState{Op: "process_data_packet", State: c.state}
	}
	if err := c.recv.Push(pkt); err != nil {
		var oor *recvbuf.OutOfRange
		if errors.As(err, &oor) {
			return nil
		}
		return err
	}
	for _, s := range c.recv.LossList() {
		c.receiverLoss.Add(s)
	}
	c.receiverLoss.Remove(pkt.Header.Seq)
	return nil
}

// Recv returns the next ready, reassembled message, or ok=false if none
// is assembled yet.
func (c *Connection) Recv() (msg []byte, ok bool) {
	return c.recv.PopReady()
}

// ProcessAck folds an incoming ACK's acknowledged sequence into the send
// buffer, updates the congestion controller, and refreshes the RTT
// estimate when the ACK carries a round-trip sample.
func (c *Connection) ProcessAck(fields packet.AckFields, acked uint32) {
	c.send.AcknowledgeUpTo(fields.AckedSeq)
	c.send.FlushAcknowledged()
	c.cc.OnAck(acked, fields.RTTMicros)
	if fields.RTTMicros > 0 {
		c.rtt.Update(fields.RTTMicros)
	}
}

// ProcessNak folds an incoming NAK's loss ranges into the sender loss
// list so a retransmit timer can drain them, and records the loss with
// the congestion controller.
func (c *Connection) ProcessNak(ranges []packet.NakRange) {
	var lost uint32
	for _, r := range ranges {
		lr := loss.Range{Start: r.Start, End: r.End}
		c.senderLoss.AddRange(lr)
		lost += uint32(lr.Len())
	}
	c.cc.OnLoss(lost)
	c.log.Trace("nak processed", slog.Int("ranges", len(ranges)), slog.Uint64("lost", uint64(lost)))
}

// ShouldSendAck reports whether an ACK is due for the receiver's current
// highest-received sequence.
func (c *Connection) ShouldSendAck(currentSeq seq.Number) bool {
	return c.ackGen.ShouldSendAck(currentSeq)
}

// GenerateAck builds the next outgoing ACK control packet.
func (c *Connection) GenerateAck(fields packet.AckFields) packet.ControlPacket {
	return c.ackGen.GenerateAck(fields, c.peerSocketID)
}

// GenerateNak builds the next outgoing NAK control packet from the
// receiver loss list, if one is due and the list is non-empty.
func (c *Connection) GenerateNak() (packet.ControlPacket, bool) {
	body := c.receiverLoss.NakBody()
	if body == nil || !c.nakGen.CanSendNak() {
		return packet.ControlPacket{}, false
	}
	return c.nakGen.GenerateNak(body, c.peerSocketID)
}

// RTT returns the connection's RTT estimator.
func (c *Connection) RTT() *ackrtt.Estimator { return c.rtt }

// Congestion returns the connection's congestion controller.
func (c *Connection) Congestion() *congestion.Controller { return c.cc }

// Close begins the shutdown sequence: Connected/Connecting -> Closing,
// arming a single pending Shutdown control packet.
func (c *Connection) Close() error {
	switch c.state {
	case StateConnected, StateConnecting:
	default:
		return &InvalidState{Op: "close", State: c.state}
	}
	c.state = StateClosing
	c.pendingShutdown = true
	return nil
}

// PendingShutdown reports whether a Shutdown control packet still needs
// to be emitted, and consumes it if so: every later call returns false.
func (c *Connection) PendingShutdown() (packet.ControlPacket, bool) {
	if !c.pendingShutdown {
		return packet.ControlPacket{}, false
	}
	c.pendingShutdown = false
	c.shutdownSent = true
	c.state = StateClosed
	return packet.ControlPacket{
		Header: packet.Header{
			IsControl:    true,
			Type:         packet.CtrlShutdown,
			DestSocketID: c.peerSocketID,
			Timestamp:    uint32(c.now().UnixMicro()),
		},
	}, true
}

// Fail forces the connection to Closed from any state (the "any ->
// fatal error -> Closed" transition).
func (c *Connection) Fail() {
	c.state = StateClosed
}

// fragment splits data into chunks no larger than maxPayload, always
// producing at least one chunk (possibly empty) so a zero-length Send
// still emits one Solo packet.
func fragment(data []byte, maxPayload int) [][]byte {
	if maxPayload <= 0 {
		maxPayload = packet.MaxPayload
	}
	if len(data) == 0 {
		return [][]byte{nil}
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := maxPayload
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
