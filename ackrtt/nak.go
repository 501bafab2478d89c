package ackrtt

import (
	"time"

	"github.com/srtlab/srtgo/packet"
)

// NakGenerator throttles NAK control packet generation to at most one
// per minNakInterval, regardless of how often the caller asks.
type NakGenerator struct {
	lastNakTime time.Time
	minInterval time.Duration
	now         func() time.Time
	initialized bool
}

// NewNakGenerator creates a NakGenerator that may send its first NAK
// immediately.
func NewNakGenerator(minInterval time.Duration, now func() time.Time) *NakGenerator {
	return &NakGenerator{minInterval: minInterval, now: now}
}

// CanSendNak reports whether enough time has elapsed since the last
// NAK.
func (g *NakGenerator) CanSendNak() bool {
	if !g.initialized {
		return true
	}
	return g.now().Sub(g.lastNakTime) >= g.minInterval
}

// GenerateNak builds a Nak control packet from a pre-encoded body, or
// returns false if throttled or the body is empty.
func (g *NakGenerator) GenerateNak(body []byte, destSocketID uint32) (packet.ControlPacket, bool) {
	if !g.CanSendNak() || len(body) == 0 {
		return packet.ControlPacket{}, false
	}
	g.lastNakTime = g.now()
	g.initialized = true
	return packet.ControlPacket{
		Header: packet.Header{
			IsControl:    true,
			Type:         packet.CtrlNak,
			DestSocketID: destSocketID,
		},
		Body: body,
	}, true
}
