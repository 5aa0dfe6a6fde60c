package rtp

import (
	"encoding/binary"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// resendErrorBackoff is how long a send error suppresses further
// resend requests, so a stalled network doesn't spin the requester.
const resendErrorBackoff = 300 * time.Millisecond

// Resender sends resend-request packets for missing sequence ranges
// over a dedicated control socket, rate-limited and back-off-gated on
// send error exactly as the classic protocol requires.
type Resender struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	limiter *rate.Limiter

	mu             sync.Mutex
	lastErrorAt    time.Time
	hasLastError   bool

	debug bool
}

// NewResender builds a Resender allowing up to burst requests
// immediately and perSecond thereafter.
func NewResender(conn *net.UDPConn, remote *net.UDPAddr, perSecond float64, burst int) *Resender {
	return &Resender{
		conn:    conn,
		remote:  remote,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *Resender) SetDebug(on bool) { r.debug = on }

// RequestResend asks the sender to retransmit count packets starting
// at sequence first. It silently drops the request if the socket is
// within its post-error backoff window.
func (r *Resender) RequestResend(first uint16, count uint16) {
	now := time.Now()

	r.mu.Lock()
	if r.hasLastError && now.Sub(r.lastErrorAt) <= resendErrorBackoff {
		r.mu.Unlock()
		if r.debug {
			log.Printf("rtp: suppressing resend request, recent send error within backoff window")
		}
		return
	}
	r.mu.Unlock()

	if !r.limiter.Allow() {
		return
	}

	req := make([]byte, 8)
	req[0] = 0x80
	req[1] = 0x55 | 0x80 // Apple classic resend request
	binary.BigEndian.PutUint16(req[2:4], 1) // sequence number of this request packet itself
	binary.BigEndian.PutUint16(req[4:6], first)
	binary.BigEndian.PutUint16(req[6:8], count)

	r.conn.SetWriteDeadline(now.Add(100 * time.Millisecond))
	_, err := r.conn.WriteToUDP(req, r.remote)

	r.mu.Lock()
	if err != nil {
		r.lastErrorAt = now
		r.hasLastError = true
		if r.debug {
			log.Printf("rtp: resend request send error: %v", err)
		}
	} else {
		r.hasLastError = false
	}
	r.mu.Unlock()
}
