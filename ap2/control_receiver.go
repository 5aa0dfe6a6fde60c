package ap2

import (
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cwsl/airplaycore/clock"
)

// fixedAnchorLatencyFrames is the constant latency (in frames) folded
// into frame_1 by the sender on every anchor packet, matching the
// AP2 protocol's baked-in 11035-frame offset.
const fixedAnchorLatencyFrames = 11035

// AnchorConfig carries the tunables needed to turn a raw anchor packet
// into a final anchor frame and a resend-scheduling latency figure.
type AnchorConfig struct {
	AudioBackendOffsetSec float64
	InputRate             uint32
}

// ControlReceiver handles the AirPlay-2 control packets: anchor
// updates (0xd5) feed the PTP-backed Anchor Store after undoing the
// sender's notified-latency and backend-offset adjustments, and
// time-announce packets (0xd7) are logged for diagnostics (the PTP
// daemon itself, not this receiver, disciplines the shared clock).
type ControlReceiver struct {
	conn   *net.UDPConn
	anchor *clock.Store
	cfg    AnchorConfig
	debug  bool

	latency atomic.Int32

	mu         sync.Mutex
	remoteAddr *net.UDPAddr

	stop chan struct{}
	done chan struct{}
}

// NewControlReceiver builds a receiver bound to conn.
func NewControlReceiver(conn *net.UDPConn, anchor *clock.Store, cfg AnchorConfig) *ControlReceiver {
	return &ControlReceiver{conn: conn, anchor: anchor, cfg: cfg, stop: make(chan struct{}), done: make(chan struct{})}
}

func (c *ControlReceiver) SetDebug(on bool) { c.debug = on }

// Latency returns the most recently notified resend-scheduling
// latency, in frames.
func (c *ControlReceiver) Latency() int32 { return c.latency.Load() }

// RemoteAddr returns the sender's address, latched from the first
// packet received on this socket.
func (c *ControlReceiver) RemoteAddr() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// Run reads control packets until Stop is called.
func (c *ControlReceiver) Run() {
	defer close(c.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
				continue
			}
		}
		c.latchRemoteAddr(addr)
		c.handlePacket(buf[:n])
	}
}

func (c *ControlReceiver) latchRemoteAddr(addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteAddr == nil {
		c.remoteAddr = addr
	}
}

// Stop closes the socket to unblock Run and waits for it to exit.
func (c *ControlReceiver) Stop() {
	close(c.stop)
	c.conn.Close()
	<-c.done
}

func (c *ControlReceiver) handlePacket(b []byte) {
	if len(b) < 2 {
		return
	}
	switch b[1] {
	case TypeAnchor:
		c.handleAnchor(b)
	case TypeTimeAnnounce:
		if c.debug {
			log.Printf("ap2: time-announce packet received (%d bytes)", len(b))
		}
	}
}

func (c *ControlReceiver) handleAnchor(b []byte) {
	pkt, ok := ParseAnchorPacket(b)
	if !ok {
		return
	}

	notifiedLatency := int32(pkt.Frame2) - int32(pkt.Frame1)
	addedLatency := int32(c.cfg.AudioBackendOffsetSec * float64(c.cfg.InputRate))

	if addedLatency < -(notifiedLatency + fixedAnchorLatencyFrames) {
		if c.debug {
			log.Printf("ap2: audio_backend_latency_offset is causing a negative latency")
		}
	}

	c.latency.Store(notifiedLatency + fixedAnchorLatencyFrames + addedLatency)

	anchorFrame := uint32(int32(pkt.Frame1) - fixedAnchorLatencyFrames - addedLatency)
	c.anchor.SetRemoteAnchor(anchorFrame, pkt.RemotePacketTime, pkt.ClockID)
}
