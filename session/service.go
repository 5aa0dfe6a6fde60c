package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/cwsl/airplaycore/ap2"
	"github.com/cwsl/airplaycore/clock"
	"github.com/cwsl/airplaycore/config"
	"github.com/cwsl/airplaycore/metrics"
	"github.com/cwsl/airplaycore/output"
	"github.com/cwsl/airplaycore/rtp"
	"github.com/cwsl/airplaycore/timing"
)

// scheduleChunkFrames is the fixed hand-off granularity the
// Schedule-to-play consumer pulls off the PCM queue, matching the
// AirPlay-2 buffered-audio packet size.
const scheduleChunkFrames = 352

// scheduleIdleSleep is how long the Schedule-to-play consumer waits
// before re-checking when there's nothing to do yet (not enough
// buffered audio, lead time too short, or the downstream ring too
// full already).
const scheduleIdleSleep = 20 * time.Millisecond

// Service is the single wired-together object for one AirPlay
// connection: clock anchor, time translator, transport receivers, and
// the output bridge. It is the only thing session callers construct
// directly; everything it owns is reachable only through it.
type Service struct {
	cfg   config.Config
	state *State

	anchor      *clock.Store
	clockReader *clock.Reader // nil for classic sessions
	translator  *timing.Translator
	driftStore  *timing.DriftStore

	ring    *output.Ring
	backend output.Backend

	metrics *metrics.Collectors

	// classic (AirPlay-1) components; nil for AP2 sessions.
	audioReceiver   *rtp.AudioReceiver
	controlReceiver *rtp.ControlReceiver
	resender        *rtp.Resender
	exchanger       *timing.PingExchanger

	// AP2 components; nil for classic sessions.
	ap2Control  *ap2.ControlReceiver
	ap2Realtime *ap2.RealtimeAudioReceiver
	ap2Pipeline *ap2.Pipeline
	pcmQueue    *ap2.PCMQueue

	cancelTiming   context.CancelFunc
	cancelSchedule context.CancelFunc
}

// Start launches every goroutine this session owns: the UDP/TCP
// receivers for whichever transport was wired in, and for classic
// sessions the NTP ping exchanger. It returns immediately; errors from
// the buffered-audio pipeline (AP2 only) are logged since Run blocks
// on TCP EOF and has no separate caller to report to.
func (s *Service) Start() {
	if s.audioReceiver != nil {
		go s.audioReceiver.Run()
	}
	if s.controlReceiver != nil {
		go s.controlReceiver.Run()
	}
	if s.exchanger != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelTiming = cancel
		s.exchanger.Start(ctx)
	}
	if s.ap2Control != nil {
		go s.ap2Control.Run()
	}
	if s.ap2Realtime != nil {
		go s.ap2Realtime.Run()
	}
	if s.ap2Pipeline != nil {
		go func() {
			if err := s.ap2Pipeline.Run(); err != nil && s.cfg.Debug {
				log.Printf("session: buffered-audio pipeline %s ended: %v", s.state.ID, err)
			}
		}()
	}
	if s.pcmQueue != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelSchedule = cancel
		go s.runSchedulePlay(ctx)
	}
}

// runSchedulePlay drains the AP2 buffered-audio PCM queue into the
// output ring at the right wall-clock moment: it waits for a full
// chunk to be available, translates the chunk's leading RTP frame
// into a local deadline via the anchor, and only hands the chunk to
// the ring once that deadline is close enough to be worth starting
// (or playback has already started), while also backing off if the
// ring already holds more than it needs for the current lead time.
func (s *Service) runSchedulePlay(ctx context.Context) {
	chunkBytes := scheduleChunkFrames * ap2.BytesPerFrame
	buf := make([]byte, chunkBytes)
	leadThreshold := time.Duration(s.cfg.AP2.ScheduleLeadTimeMs) * time.Millisecond
	if leadThreshold <= 0 {
		leadThreshold = 50 * time.Millisecond
	}
	sampleRate := float64(s.state.Params.InputSampleRate)
	started := false

	sleep := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(scheduleIdleSleep):
			return true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.state.PlayEnabled() || !s.anchor.Valid() || s.pcmQueue.Occupancy() < chunkBytes {
			if !sleep() {
				return
			}
			continue
		}

		readPoint := s.pcmQueue.ReadPointTimestamp()
		targetLocal, err := s.translator.FrameToLocalTime(readPoint)
		if err != nil {
			if !sleep() {
				return
			}
			continue
		}

		lead := time.Duration(int64(targetLocal) - time.Now().UnixNano())
		if lead < leadThreshold && !started {
			if !sleep() {
				return
			}
			continue
		}

		maxBlocks := (lead.Seconds() + 0.1) * sampleRate / scheduleChunkFrames
		if float64(s.ring.Occupancy())/scheduleChunkFrames > maxBlocks {
			if !sleep() {
				return
			}
			continue
		}

		n := s.pcmQueue.Read(buf)
		if n == 0 {
			if !sleep() {
				return
			}
			continue
		}
		started = true
		s.ring.Write(bytesToInt16(buf[:n]))
	}
}

// NewClassicService wires a full AirPlay-1 session: an Anchor Store in
// local-time mode (no shared clock reader), an NTP ping exchanger
// against remote, and the classic audio/control/resend receivers.
func NewClassicService(cfg config.Config, params Params, audioConn, controlConn, timingConn *net.UDPConn, remote *net.UDPAddr, backend output.Backend, collectors *metrics.Collectors) (*Service, error) {
	state := NewState(params)
	anchorStore := clock.NewStore(nil)
	driftStore := timing.NewDriftStore()

	translator := timing.NewTranslator(anchorAdapter{anchorStore}, float64(params.InputSampleRate), timing.ModeNTP, nil)

	ring := output.NewRing(cfg.Output.RingBufferSeconds*int(params.InputSampleRate), 2)
	if err := backend.Start(ring, int(params.InputSampleRate)); err != nil {
		return nil, fmt.Errorf("session: start output backend: %w", err)
	}

	svc := &Service{
		cfg:        cfg,
		state:      state,
		anchor:     anchorStore,
		translator: translator,
		driftStore: driftStore,
		ring:       ring,
		backend:    backend,
		metrics:    collectors,
		exchanger:  timing.NewPingExchanger(timingConn, remote, cfg.Timing.HistoryLength),
	}

	latencyCfg := rtp.LatencyConfig{
		MinimumLatency:        params.MinimumLatency,
		MaximumLatency:        params.MaximumLatency,
		InputRate:             params.InputSampleRate,
		MaxFramesPerPacket:    352,
		BufferFrames:          uint32(ring.Capacity()),
		AudioBackendOffsetSec: cfg.Classic.AudioBackendOffsetSec,
		MinimumFreeHeadroom:   cfg.Classic.MinimumFreeHeadroomFrames,
	}
	svc.controlReceiver = rtp.NewControlReceiver(controlConn, anchorStore, latencyCfg)
	svc.audioReceiver = rtp.NewAudioReceiver(audioConn, svc)
	svc.resender = rtp.NewResender(controlConn, remote, 20, 5)

	return svc, nil
}

// NewAP2Service wires a full AirPlay-2 session: an Anchor Store backed
// by the shared PTP clock, the AP2 control/realtime receivers, and the
// buffered-audio pipeline reading off a TCP connection.
func NewAP2Service(cfg config.Config, params Params, tcpConn net.Conn, controlConn, realtimeConn *net.UDPConn, decoder ap2.Decoder, backend output.Backend, collectors *metrics.Collectors) (*Service, error) {
	state := NewState(params)

	reader, err := clock.OpenSharedMemory(cfg.Clock.SharedMemoryName)
	if err != nil {
		return nil, fmt.Errorf("session: open shared clock: %w", err)
	}

	anchorStore := clock.NewStore(reader)
	translator := timing.NewTranslator(anchorAdapter{anchorStore}, float64(params.InputSampleRate), timing.ModePTP, nil)

	ring := output.NewRing(cfg.Output.RingBufferSeconds*int(params.InputSampleRate), 2)
	if err := backend.Start(ring, int(params.InputSampleRate)); err != nil {
		reader.Close()
		return nil, fmt.Errorf("session: start output backend: %w", err)
	}

	svc := &Service{
		cfg:         cfg,
		state:       state,
		anchor:      anchorStore,
		clockReader: reader,
		translator:  translator,
		ring:        ring,
		backend:     backend,
		metrics:     collectors,
	}

	svc.pcmQueue = ap2.NewPCMQueue(cfg.AP2.PCMQueueFrames)
	svc.ap2Pipeline = ap2.NewPipeline(tcpConn, params.AEADKey, decoder, svc.pcmQueue)
	anchorCfg := ap2.AnchorConfig{
		AudioBackendOffsetSec: cfg.AP2.AudioBackendOffsetSec,
		InputRate:             params.InputSampleRate,
	}
	svc.ap2Control = ap2.NewControlReceiver(controlConn, anchorStore, anchorCfg)
	svc.ap2Realtime = ap2.NewRealtimeAudioReceiver(realtimeConn, params.AEADKey, svc)

	return svc, nil
}

// anchorAdapter satisfies timing.AnchorSource with a *clock.Store.
type anchorAdapter struct{ store *clock.Store }

func (a anchorAdapter) Read() (clock.ResolvedAnchor, error) { return a.store.Read() }

// PushAudio satisfies both rtp.Player and ap2.RealtimePlayer: when
// playback is enabled, payload is written straight into the output
// ring as little-endian interleaved 16-bit samples. Nothing decodes it
// first, here or in the rtp/ap2 receivers that call this, so a
// compressed payload reaches the ring as-is.
func (s *Service) PushAudio(sequence uint16, timestamp uint32, payload []byte) {
	if !s.state.PlayEnabled() {
		return
	}
	frames := bytesToInt16(payload)
	n := s.ring.Write(frames)
	if n*2 < len(frames) && s.metrics != nil {
		s.metrics.RingOverruns.WithLabelValues(s.state.ID.String()).Inc()
	}
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}

// RequestFlush arms a flush across whichever transport this session
// uses.
func (s *Service) RequestFlush(untilSeq, untilTS uint32) {
	s.state.ArmFlush(untilSeq, untilTS)
	if s.pcmQueue != nil {
		s.pcmQueue.RequestFlush(untilSeq, untilTS)
	}
	s.ring.Flush()
}

// Close tears the session down, stopping every owned goroutine and
// releasing the shared-memory mapping if one was opened.
func (s *Service) Close() error {
	if s.audioReceiver != nil {
		s.audioReceiver.Stop()
	}
	if s.controlReceiver != nil {
		s.controlReceiver.Stop()
	}
	if s.exchanger != nil {
		s.exchanger.Stop()
	}
	if s.cancelTiming != nil {
		s.cancelTiming()
	}
	if s.cancelSchedule != nil {
		s.cancelSchedule()
	}
	if s.ap2Control != nil {
		s.ap2Control.Stop()
	}
	if s.ap2Realtime != nil {
		s.ap2Realtime.Stop()
	}

	var err error
	if s.backend != nil {
		err = s.backend.Stop()
	}
	if s.clockReader != nil {
		if cerr := s.clockReader.Close(); err == nil {
			err = cerr
		}
	}
	if s.driftStore != nil && s.exchanger != nil {
		// nothing is written to s.driftStore: the PingExchanger keeps
		// its fitted models in a store of its own, which is dropped
		// with the session.
		_ = s.driftStore
	}
	return err
}
