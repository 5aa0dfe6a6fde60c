package timing

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Wire layout for the classic timing exchange: a 2-byte leader+type, a
// 2-byte sequence number, a 4-byte filler, then three 8-byte
// NTP-style timestamps (origin, receive, transmit).
const (
	typeTimingRequest = 0xd2
	typeTimingReply   = 0xd3

	timingPacketSize = 32

	offsetSequence  = 2
	offsetOrigin    = 8
	offsetReceive   = 16
	offsetTransmit  = 24

	fastBurstCount    = 6
	fastBurstInterval = 300 * time.Millisecond
	steadyInterval    = 3 * time.Second

	settlingSequence   = 20 // the 21st request goes out about 44s in (six 300ms gaps, then 3s each)
	minSamplesForDrift = 8

	// maxAcceptableReturnTime discards any round trip that took longer
	// than this; a reply that slow says nothing trustworthy about the
	// peer's clock.
	maxAcceptableReturnTime = 200 * time.Millisecond
)

func encodeNTPTime(t uint64) []byte {
	b := make([]byte, 8)
	secs := uint32(t / 1e9)
	frac := uint32(((t % 1e9) << 32) / 1e9)
	binary.BigEndian.PutUint32(b[0:4], secs)
	binary.BigEndian.PutUint32(b[4:8], frac)
	return b
}

func decodeNTPTime(b []byte) uint64 {
	secs := binary.BigEndian.Uint32(b[0:4])
	frac := binary.BigEndian.Uint32(b[4:8])
	return uint64(secs)*1e9 + (uint64(frac)*1e9)>>32
}

func buildRequest(seq uint16, originNs uint64) []byte {
	b := make([]byte, timingPacketSize)
	b[0] = 0x80
	b[1] = typeTimingRequest
	binary.BigEndian.PutUint16(b[offsetSequence:], seq)
	copy(b[offsetOrigin:], encodeNTPTime(originNs))
	return b
}

func parseReply(b []byte) (seq uint16, receive, transmit uint64, err error) {
	if len(b) < timingPacketSize {
		return 0, 0, 0, fmt.Errorf("timing: short reply packet (%d bytes)", len(b))
	}
	if b[1]&0x7f != typeTimingReply {
		return 0, 0, 0, fmt.Errorf("timing: unexpected packet type 0x%02x", b[1])
	}
	seq = binary.BigEndian.Uint16(b[offsetSequence:])
	receive = decodeNTPTime(b[offsetReceive:])
	transmit = decodeNTPTime(b[offsetTransmit:])
	return seq, receive, transmit, nil
}

// PingExchanger drives the NTP-style round-trip exchange against one
// peer, feeding every accepted round trip into a History and
// periodically refitting a DriftModel via least squares.
type PingExchanger struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	peer   string

	history *History
	drift   *DriftStore

	departureNs uint64
	sequence    uint16

	nowNs func() uint64

	cancel context.CancelFunc
	done   chan struct{}

	onDrift func(DriftModel)
	debug   bool
}

// NewPingExchanger creates an exchanger bound to conn and remote. Only
// classic sessions build one, and conn is their dedicated timing
// socket.
func NewPingExchanger(conn *net.UDPConn, remote *net.UDPAddr, historyLen int) *PingExchanger {
	return &PingExchanger{
		conn:    conn,
		remote:  remote,
		peer:    remote.IP.String(),
		history: NewHistory(historyLen),
		drift:   NewDriftStore(),
		nowNs:   func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

// SetDebug toggles verbose per-round-trip logging.
func (p *PingExchanger) SetDebug(on bool) { p.debug = on }

// Start launches the sender and receiver goroutines. Stop cancels
// their context and closes conn to unblock the reader.
func (p *PingExchanger) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.receiveLoop(ctx)
	go p.sendLoop(ctx)
}

// Stop halts both goroutines and waits for the receive loop to exit.
func (p *PingExchanger) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.conn.Close()
	if p.done != nil {
		<-p.done
	}
}

func (p *PingExchanger) sendLoop(ctx context.Context) {
	burst := 0
	for {
		interval := steadyInterval
		if burst < fastBurstCount {
			interval = fastBurstInterval
			burst++
		}

		p.sequence++
		departure := p.nowNs()
		p.departureNs = departure
		req := buildRequest(p.sequence, departure)

		if _, err := p.conn.WriteToUDP(req, p.remote); err != nil {
			if p.debug {
				log.Printf("timing: send to %s failed: %v", p.remote, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(300 * time.Millisecond):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (p *PingExchanger) receiveLoop(ctx context.Context) {
	defer close(p.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		arrival := p.nowNs()

		_, receive, transmit, err := parseReply(buf[:n])
		if err != nil {
			if p.debug {
				log.Printf("timing: %v", err)
			}
			continue
		}

		p.acceptReply(p.departureNs, arrival, receive, transmit)
	}
}

func (p *PingExchanger) acceptReply(departure, arrival, receive, transmit uint64) {
	returnTime := arrival - departure
	if returnTime >= uint64(maxAcceptableReturnTime) {
		if p.debug {
			log.Printf("timing: return time %v exceeds %v, discarding sample", time.Duration(returnTime), maxAcceptableReturnTime)
		}
		return
	}

	var remoteProcessing uint64
	if transmit >= receive {
		remoteProcessing = transmit - receive
	} else if p.debug {
		log.Printf("timing: remote transmit time before receive time, remote processing set to zero")
	}

	adjustedReturnTime := returnTime
	if remoteProcessing < returnTime {
		adjustedReturnTime = returnTime - remoteProcessing
	} else if p.debug {
		log.Printf("timing: remote processing time greater than return time, ignored")
	}

	local := arrival
	remote := transmit + adjustedReturnTime/2

	p.history.Insert(local, remote, uint32(p.sequence), adjustedReturnTime)

	if model, ok := p.fitDrift(); ok {
		p.drift.Set(p.peer, model)
		if p.onDrift != nil {
			p.onDrift(model)
		}
	}
}

// fitDrift regresses remote time against local time over every chosen
// sample past the settling threshold, using gonum for the mean and
// least-squares slope computations.
func (p *PingExchanger) fitDrift() (DriftModel, bool) {
	samples := p.history.ChosenAfter(settlingSequence)
	if len(samples) < minSamplesForDrift {
		return DriftModel{}, false
	}

	shift := p.history.PowerOfTwo()
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = float64(s.Local >> shift)
		ys[i] = float64(s.Remote >> shift)
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	xBar := stat.Mean(xs, nil)
	yBar := stat.Mean(ys, nil)

	return DriftModel{
		Gradient:  slope,
		Intercept: (yBar - xBar) * float64(uint64(1)<<shift),
		Samples:   len(samples),
	}, true
}
