package rtp

import (
	"log"
	"net"
	"sync"
	"time"
)

// Player is the hand-off target for decoded-ready audio payloads; it
// is satisfied by the ap2/session pipeline's ingestion stage.
type Player interface {
	PushAudio(sequence uint16, timestamp uint32, payload []byte)
}

// rollingStatsInterval is how many packets the receiver accumulates
// before logging an inter-arrival summary, rather than logging per
// packet.
const rollingStatsInterval = 2500

// AudioReceiver reads classic 0x60/0x56 packets off a UDP socket and
// hands payloads to a Player, tracking a running mean, variance, and
// max of the wall-clock intervals between received packets via
// Welford's online algorithm.
type AudioReceiver struct {
	conn   *net.UDPConn
	player Player
	debug  bool
	now    func() time.Time

	mu          sync.Mutex
	received    uint64
	sinceReport uint64

	haveLastArrival bool
	lastArrival     time.Time

	intervalCount uint64
	intervalMean  float64 // ns
	intervalM2    float64 // ns^2, sum of squared deviations
	intervalMax   time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewAudioReceiver builds a receiver bound to conn.
func NewAudioReceiver(conn *net.UDPConn, player Player) *AudioReceiver {
	return &AudioReceiver{conn: conn, player: player, now: time.Now, stop: make(chan struct{}), done: make(chan struct{})}
}

func (a *AudioReceiver) SetDebug(on bool) { a.debug = on }

// Run reads packets until Stop is called.
func (a *AudioReceiver) Run() {
	defer close(a.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		n, _, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-a.stop:
				return
			default:
				continue
			}
		}
		a.handlePacket(buf[:n])
	}
}

// Stop closes the socket to unblock Run and waits for it to exit.
func (a *AudioReceiver) Stop() {
	close(a.stop)
	a.conn.Close()
	<-a.done
}

func (a *AudioReceiver) handlePacket(b []byte) {
	if len(b) < 2 {
		return
	}

	raw := b
	switch PacketType(b[1]) {
	case TypeAudioResend:
		stripped, ok := StripResendWrapper(b)
		if !ok {
			return
		}
		raw = stripped
	case TypeAudio:
		// plain, unwrap nothing
	default:
		return
	}

	pkt, ok := ParseAudioPacket(raw)
	if !ok {
		return
	}

	a.trackArrival()
	a.player.PushAudio(pkt.Sequence, pkt.Timestamp, pkt.Payload)
}

func (a *AudioReceiver) trackArrival() {
	a.mu.Lock()
	defer a.mu.Unlock()

	arrival := a.now()
	a.received++
	a.sinceReport++

	if a.haveLastArrival {
		a.observeInterval(arrival.Sub(a.lastArrival))
	}
	a.haveLastArrival = true
	a.lastArrival = arrival

	if a.sinceReport >= rollingStatsInterval {
		if a.debug {
			mean, variance, max := a.intervalStatsLocked()
			log.Printf("rtp: audio receiver inter-arrival stats over %d packets: mean=%v variance=%.0fns^2 max=%v",
				a.received, mean, variance, max)
		}
		a.sinceReport = 0
	}
}

// observeInterval feeds one inter-arrival sample into the running
// mean/variance via Welford's online algorithm, which updates both
// moments in a single pass without retaining the sample history.
func (a *AudioReceiver) observeInterval(interval time.Duration) {
	x := float64(interval)
	a.intervalCount++
	delta := x - a.intervalMean
	a.intervalMean += delta / float64(a.intervalCount)
	delta2 := x - a.intervalMean
	a.intervalM2 += delta * delta2

	if interval > a.intervalMax {
		a.intervalMax = interval
	}
}

func (a *AudioReceiver) intervalStatsLocked() (mean time.Duration, variance float64, max time.Duration) {
	mean = time.Duration(a.intervalMean)
	if a.intervalCount > 0 {
		variance = a.intervalM2 / float64(a.intervalCount)
	}
	return mean, variance, a.intervalMax
}

// IntervalStats returns the current rolling mean, variance (in ns^2),
// and max of the inter-arrival intervals between received audio
// packets.
func (a *AudioReceiver) IntervalStats() (mean time.Duration, variance float64, max time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.intervalStatsLocked()
}

// Received returns the running count of audio packets received.
func (a *AudioReceiver) Received() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received
}
