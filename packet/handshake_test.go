package packet

import (
	"testing"

	"github.com/srtlab/srtgo/seq"
)

func TestHandshakeRoundTrip(t *testing.T) {
	hs := Handshake{
		Version:       SupportedVersion,
		SocketType:    StreamSocketType,
		InitialSeq:    seq.New(4242),
		MaxPacketSize: 1500,
		MaxFlowWindow: 8192,
		Kind:          KindInduction,
		SocketID:      555,
		Cookie:        0,
		Extension: &Extension{
			SRTVersion:        SRTVersion,
			Flags:             CapTSBPDSender | CapTSBPDReceiver | CapNAKReport,
			LatencyReceiverMs: 120,
			LatencySenderMs:   80,
		},
	}
	copy(hs.PeerAddress[:4], []byte{127, 0, 0, 1})

	buf := EncodeHandshake(hs)
	got, err := DecodeHandshake(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != hs.Version || got.Kind != hs.Kind || got.InitialSeq != hs.InitialSeq {
		t.Fatalf("mismatch: %+v", got)
	}
	if got.Extension == nil {
		t.Fatal("expected extension to round-trip")
	}
	if got.Extension.LatencyReceiverMs != 120 || got.Extension.LatencySenderMs != 80 {
		t.Fatalf("latency mismatch: %+v", got.Extension)
	}
	if got.Extension.Flags != hs.Extension.Flags {
		t.Fatalf("flags mismatch: got %b want %b", got.Extension.Flags, hs.Extension.Flags)
	}
}

func TestHandshakeNoExtension(t *testing.T) {
	hs := Handshake{Version: SupportedVersion, SocketType: StreamSocketType, Kind: KindAgreement, SocketID: 7}
	buf := EncodeHandshake(hs)
	if len(buf) != baseHandshakeSize {
		t.Fatalf("expected %d bytes without extension, got %d", baseHandshakeSize, len(buf))
	}
	got, err := DecodeHandshake(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Extension != nil {
		t.Fatal("expected no extension")
	}
}

func TestNegotiate(t *testing.T) {
	local := CapTSBPDSender | CapTSBPDReceiver | CapNAKReport | CapStreamMode
	peer := CapTSBPDSender | CapEncryption | CapNAKReport
	got := Negotiate(local, peer)
	want := CapTSBPDSender | CapNAKReport
	if got != want {
		t.Fatalf("negotiate = %b, want %b", got, want)
	}
}

func TestDeriveStreamSaltDeterministic(t *testing.T) {
	a, err := DeriveStreamSalt(seq.New(1), seq.New(2), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveStreamSalt(seq.New(1), seq.New(2), 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("derivation should be deterministic for identical inputs")
	}
	c, _ := DeriveStreamSalt(seq.New(1), seq.New(3), 10, 20)
	if a == c {
		t.Fatal("different peer ISS should yield different salt")
	}
}

func TestExtensionTruncated(t *testing.T) {
	hs := Handshake{Extension: &Extension{SRTVersion: SRTVersion}}
	buf := EncodeHandshake(hs)
	buf = buf[:len(buf)-4] // truncate the extension body.
	_, err := DecodeHandshake(buf)
	var e *ExtensionError
	if !errorsAs(err, &e) {
		t.Fatalf("expected ExtensionError, got %T (%v)", err, err)
	}
}
