// Package transport defines the external collaborator surface the
// protocol core assumes: a datagram sink/source pair, a clock, and
// pacing. Nothing in this package does protocol work; it is the seam
// between the pure, non-blocking core (seq, packet, sendbuf, recvbuf,
// loss, ackrtt, congestion, conn) and whatever actually owns a UDP
// socket.
package transport

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/srtlab/srtgo/congestion"
)

// Sink accepts an outbound datagram addressed to a destination socket id
// (the caller is responsible for mapping socket ids to network
// addresses; that mapping stays outside the core).
type Sink interface {
	WriteDatagram(ctx context.Context, destSocketID uint32, payload []byte) error
}

// Source yields inbound datagrams. Implementations block until a
// datagram arrives or ctx is done.
type Source interface {
	ReadDatagram(ctx context.Context) (payload []byte, err error)
}

// Clock abstracts wall-clock access so the core's clock-injection pattern
// (sendbuf.New, loss.New, ackrtt.NewGenerator, congestion.NewController
// all take a `now func() time.Time`) can be satisfied by either
// time.Now or a test double, without the core importing this package.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Pacer throttles outbound packets to the congestion controller's current
// sending rate. Wraps golang.org/x/time/rate rather than a
// hand-rolled ticker, matching how the rest of the pack reaches for a
// token bucket wherever steady-rate pacing is needed.
type Pacer struct {
	limiter *rate.Limiter
	cc      *congestion.Controller
}

// NewPacer creates a Pacer seeded from cc's current inter-packet
// interval. Burst is one packet: SRT's own congestion window already
// bounds how many packets may be outstanding, so the limiter need only
// enforce inter-packet spacing, not an independent burst allowance.
func NewPacer(cc *congestion.Controller) *Pacer {
	p := &Pacer{cc: cc}
	p.limiter = rate.NewLimiter(p.currentLimit(), 1)
	return p
}

func (p *Pacer) currentLimit() rate.Limit {
	interval := p.cc.InterPacketInterval()
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Wait blocks until a packet may be sent per the congestion controller's
// current pacing, refreshing the limiter's rate from the controller each
// call since the congestion window and bandwidth estimate change over
// time.
func (p *Pacer) Wait(ctx context.Context) error {
	p.limiter.SetLimit(p.currentLimit())
	return p.limiter.Wait(ctx)
}
