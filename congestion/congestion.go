// Package congestion implements SRT's rate-based congestion controller:
// slow-start/AIMD window growth, bandwidth EWMA, and inter-packet
// pacing. The external pacing primitive (golang.org/x/time/rate) lives
// in package transport, which consults InterPacketInterval to size its
// token bucket; this package only computes the interval.
package congestion

import "time"

// initialCongestionWindow is the starting cwnd in packets.
const initialCongestionWindow = 16

// defaultMinCongestionInterval bounds how often a loss event may reduce
// cwnd.
const defaultMinCongestionInterval = time.Second

// Controller tracks SRT's rate-based congestion control state. Not safe
// for concurrent use; the owning conn.Connection, itself single-threaded,
// is the only caller.
type Controller struct {
	maxBandwidthBps     uint64
	currentBandwidthBps uint64
	flowWindow          uint32
	congestionWindow    uint32
	maxPacketSize       int
	ssthresh            uint32
	slowStart           bool
	packetsInFlight     uint32

	lastCongestionEvent    time.Time
	hasLastCongestionEvent bool
	minCongestionInterval  time.Duration

	packetDeliveryRate float64
	lastUpdate         time.Time

	now func() time.Time
}

// NewController creates a Controller. maxBandwidthBps bounds the
// bandwidth estimate; maxPacketSize converts the EWMA delivery rate
// (packets/sec) into bytes/sec; flowWindow is the peer-advertised flow
// window in packets.
func NewController(maxBandwidthBps uint64, maxPacketSize int, flowWindow uint32, now func() time.Time) *Controller {
	return &Controller{
		maxBandwidthBps:       maxBandwidthBps,
		currentBandwidthBps:   maxBandwidthBps / 2,
		flowWindow:            flowWindow,
		congestionWindow:      initialCongestionWindow,
		maxPacketSize:         maxPacketSize,
		ssthresh:              flowWindow / 2,
		slowStart:             true,
		minCongestionInterval: defaultMinCongestionInterval,
		lastUpdate:            now(),
		now:                   now,
	}
}

// SendingRateBps returns the current estimated sending rate.
func (c *Controller) SendingRateBps() uint64 { return c.currentBandwidthBps }

// CongestionWindow returns the current congestion window in packets.
func (c *Controller) CongestionWindow() uint32 { return c.congestionWindow }

// EffectiveWindow returns the smaller of the flow window and the
// congestion window.
func (c *Controller) EffectiveWindow() uint32 {
	if c.flowWindow < c.congestionWindow {
		return c.flowWindow
	}
	return c.congestionWindow
}

// CanSend reports whether another packet may be sent without exceeding
// the effective window.
func (c *Controller) CanSend() bool { return c.packetsInFlight < c.EffectiveWindow() }

// PacketsAllowed returns how many more packets may be sent right now.
func (c *Controller) PacketsAllowed() uint32 {
	eff := c.EffectiveWindow()
	if c.packetsInFlight >= eff {
		return 0
	}
	return eff - c.packetsInFlight
}

// OnPacketSent records a packet entering flight.
func (c *Controller) OnPacketSent() { c.packetsInFlight++ }

// OnAck records ackedPackets being acknowledged with an RTT sample,
// growing the congestion window per slow-start or AIMD congestion
// avoidance and refreshing the bandwidth estimate.
func (c *Controller) OnAck(ackedPackets uint32, rttMicros uint32) {
	c.packetsInFlight = saturatingSub(c.packetsInFlight, ackedPackets)

	if c.slowStart {
		c.congestionWindow += ackedPackets
		if c.congestionWindow >= c.ssthresh {
			c.slowStart = false
		}
	} else {
		// Congestion avoidance: ⌈n/cwnd⌉ per ACK, not the strict-Reno
		// fractional-accumulation alternative.
		increment := uint32(1)
		if c.congestionWindow > 0 {
			increment = ceilDiv(ackedPackets, c.congestionWindow)
			if increment < 1 {
				increment = 1
			}
		}
		c.congestionWindow += increment
	}

	if c.congestionWindow > c.flowWindow {
		c.congestionWindow = c.flowWindow
	}

	c.updateBandwidthEstimate(rttMicros)
}

// OnLoss records lostPackets being declared lost, applying a
// multiplicative decrease to the congestion window no more often than
// minCongestionInterval.
func (c *Controller) OnLoss(lostPackets uint32) {
	shouldReduce := !c.hasLastCongestionEvent || c.now().Sub(c.lastCongestionEvent) >= c.minCongestionInterval
	if shouldReduce {
		c.ssthresh = c.congestionWindow / 2
		c.congestionWindow = c.ssthresh
		if c.congestionWindow < 2 {
			c.congestionWindow = 2
		}
		c.slowStart = false
		c.currentBandwidthBps = c.currentBandwidthBps * 3 / 4
		c.lastCongestionEvent = c.now()
		c.hasLastCongestionEvent = true
	}
	c.packetsInFlight = saturatingSub(c.packetsInFlight, lostPackets)
}

func (c *Controller) updateBandwidthEstimate(rttMicros uint32) {
	if rttMicros == 0 {
		return
	}
	now := c.now()
	elapsed := now.Sub(c.lastUpdate)
	c.lastUpdate = now
	if elapsed < time.Second {
		return
	}

	rttSec := float64(rttMicros) / 1_000_000
	deliveryRate := float64(c.congestionWindow) / rttSec

	const alpha = 0.125
	if c.packetDeliveryRate == 0 {
		c.packetDeliveryRate = deliveryRate
	} else {
		c.packetDeliveryRate = alpha*deliveryRate + (1-alpha)*c.packetDeliveryRate
	}

	estimatedBps := uint64(c.packetDeliveryRate * float64(c.maxPacketSize))
	if estimatedBps > c.maxBandwidthBps {
		estimatedBps = c.maxBandwidthBps
	}
	c.currentBandwidthBps = estimatedBps
}

// UpdateFlowWindow applies a new peer-advertised flow window, capping
// the congestion window to match if it now exceeds it.
func (c *Controller) UpdateFlowWindow(newFlowWindow uint32) {
	c.flowWindow = newFlowWindow
	if c.congestionWindow > c.flowWindow {
		c.congestionWindow = c.flowWindow
	}
}

// InterPacketInterval returns the pacing interval between packets at the
// current sending rate.
func (c *Controller) InterPacketInterval() time.Duration {
	if c.currentBandwidthBps == 0 || c.maxPacketSize <= 0 {
		return time.Millisecond
	}
	packetsPerSec := c.currentBandwidthBps / uint64(c.maxPacketSize)
	if packetsPerSec == 0 {
		return time.Millisecond
	}
	return time.Duration(1_000_000/packetsPerSec) * time.Microsecond
}

// Reset restores the controller to its initial state, keeping
// max-bandwidth, max-packet-size and flow-window configuration.
func (c *Controller) Reset() {
	c.congestionWindow = initialCongestionWindow
	c.ssthresh = c.flowWindow / 2
	c.slowStart = true
	c.packetsInFlight = 0
	c.currentBandwidthBps = c.maxBandwidthBps / 2
	c.packetDeliveryRate = 0
	c.hasLastCongestionEvent = false
}

// Stats is a snapshot of congestion controller state.
type Stats struct {
	CongestionWindow    uint32
	FlowWindow          uint32
	PacketsInFlight     uint32
	CurrentBandwidthBps uint64
	SlowStart           bool
	Ssthresh            uint32
}

// Stats returns a snapshot of the controller's current state.
func (c *Controller) Stats() Stats {
	return Stats{
		CongestionWindow:    c.congestionWindow,
		FlowWindow:          c.flowWindow,
		PacketsInFlight:     c.packetsInFlight,
		CurrentBandwidthBps: c.currentBandwidthBps,
		SlowStart:           c.slowStart,
		Ssthresh:            c.ssthresh,
	}
}

func saturatingSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

func ceilDiv(n, d uint32) uint32 {
	return (n + d - 1) / d
}
