package rtp

import (
	"log"
	"net"
	"sync"

	"github.com/cwsl/airplaycore/clock"
)

// LatencyConfig mirrors the tunables a classic AirPlay sender
// negotiates or that an administrator fixes ahead of time.
type LatencyConfig struct {
	UserSuppliedLatency   uint32 // 0 means "not fixed"
	FixedLatencyOffset    uint32 // added when flags==7 or an old/new sender version requests it
	MinimumLatency        uint32
	MaximumLatency        uint32
	AudioBackendOffsetSec float64
	InputRate             uint32
	MaxFramesPerPacket    uint32
	BufferFrames          uint32 // capacity of the playback buffer, in 352-frame packets
	MinimumFreeHeadroom   uint32 // packets of BufferFrames reserved and never counted toward the clamp
}

// bonusVersion reports whether a sender's AirPlay protocol version
// falls in the ranges known to need the fixed latency bonus even
// without flags==7 (very old or very new senders).
func bonusVersion(version int) bool {
	return version > 0 && (version <= 353 || version >= 371)
}

// ControlReceiver owns the classic control UDP socket (sync packets
// only; timing runs on its own socket), maintains
// the per-connection latency state, and feeds resolved anchors into an
// Anchor Store.
type ControlReceiver struct {
	conn   *net.UDPConn
	anchor *clock.Store
	cfg    LatencyConfig

	mu      sync.Mutex
	latency uint32

	airplayVersion int
	debug          bool

	stop chan struct{}
	done chan struct{}
}

// NewControlReceiver builds a receiver bound to conn, updating anchor
// on every accepted sync packet.
func NewControlReceiver(conn *net.UDPConn, anchor *clock.Store, cfg LatencyConfig) *ControlReceiver {
	return &ControlReceiver{
		conn:   conn,
		anchor: anchor,
		cfg:    cfg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *ControlReceiver) SetDebug(on bool)          { c.debug = on }
func (c *ControlReceiver) SetAirPlayVersion(v int)   { c.airplayVersion = v }
func (c *ControlReceiver) Latency() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Run reads control packets until Stop is called or the socket errs.
func (c *ControlReceiver) Run() {
	defer close(c.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
				continue
			}
		}
		c.handlePacket(buf[:n])
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
	switch PacketType(b[1]) {
	case TypeSync:
		c.handleSync(b)
	}
}

func (c *ControlReceiver) handleSync(b []byte) {
	pkt, ok := ParseSyncPacket(b)
	if !ok {
		return
	}

	la := pkt.RTPTimestamp - pkt.RTPTimestampLessLatency // may wrap; unsigned arithmetic matches the wire intent

	if c.cfg.UserSuppliedLatency != 0 {
		c.setLatency(c.cfg.UserSuppliedLatency)
	} else {
		if pkt.Flags == 7 || bonusVersion(c.airplayVersion) {
			la += c.cfg.FixedLatencyOffset
		}
		if c.cfg.MaximumLatency != 0 && c.cfg.MaximumLatency < la {
			la = c.cfg.MaximumLatency
		}
		if c.cfg.MinimumLatency != 0 && c.cfg.MinimumLatency > la {
			la = c.cfg.MinimumLatency
		}

		maxFrames := (3*c.cfg.BufferFrames*352)/4 - 11025

		if la > maxFrames {
			if c.debug {
				log.Printf("rtp: out-of-range latency request of %d frames ignored (max %d)", la, maxFrames)
			}
		} else {
			offset := int32(c.cfg.AudioBackendOffsetSec * float64(c.cfg.InputRate))
			adjusted := offset + int32(la)
			limit := int32(c.cfg.MaxFramesPerPacket * (c.cfg.BufferFrames - c.cfg.MinimumFreeHeadroom))
			if adjusted < 0 || adjusted > limit {
				if c.debug {
					log.Printf("rtp: audio backend latency offset out of range, ignored")
				}
			} else {
				la = uint32(adjusted)
			}
			c.setLatency(la)
		}
	}

	syncTimestamp := pkt.RTPTimestamp - c.Latency()
	c.anchor.SetLocalAnchor(syncTimestamp, pkt.RemoteTimeOfSync)
}

func (c *ControlReceiver) setLatency(la uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if la != c.latency {
		c.latency = la
	}
}
