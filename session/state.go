// Package session ties the clock, timing, rtp, ap2, and output
// packages together into one per-connection Service, the single
// explicitly-constructed object each AirPlay stream gets (no
// package-level singletons besides the read-only shared-memory region
// and the selected output back-end).
package session

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind distinguishes a classic AirPlay-1 session from an AirPlay-2
// one; the two differ in clock discipline and transport.
type Kind int

const (
	KindClassic Kind = iota
	KindAP2
)

// Params is everything negotiated out-of-band by the RTSP layer
// (out of this module's scope) for one connection: the AEAD key,
// sample rate, latency bounds, and peer address. The sockets are
// passed to the Service constructors separately. It is supplied
// programmatically, never parsed from YAML.
type Params struct {
	Kind           Kind
	InputSampleRate uint32
	MinimumLatency  uint32
	MaximumLatency  uint32
	AEADKey         []byte // 32 bytes, AP2 only
	PeerAddr        string
}

// State is the mutable per-connection state a Service tracks across
// its lifetime: latency bounds, flush bookkeeping, and the play-enable
// gate.
type State struct {
	ID uuid.UUID

	Params Params

	currentLatency atomic.Uint32

	packetsSinceFlush atomic.Uint64
	pendingFlushSeq   atomic.Uint32
	pendingFlushTS    atomic.Uint32
	flushArmed        atomic.Bool

	playEnabled atomic.Bool
}

// NewState creates per-connection state for params.
func NewState(params Params) *State {
	s := &State{ID: uuid.New(), Params: params}
	s.currentLatency.Store(params.MinimumLatency)
	return s
}

// ArmFlush records a pending flush target, readable via FlushTarget.
// The ap2/rtp receivers do not consult it; the AP2 PCM queue keeps its
// own copy of the target.
func (s *State) ArmFlush(untilSeq, untilTS uint32) {
	s.pendingFlushSeq.Store(untilSeq)
	s.pendingFlushTS.Store(untilTS)
	s.flushArmed.Store(true)
	s.packetsSinceFlush.Store(0)
}

// FlushTarget returns the armed flush target, if any.
func (s *State) FlushTarget() (seq, ts uint32, armed bool) {
	return s.pendingFlushSeq.Load(), s.pendingFlushTS.Load(), s.flushArmed.Load()
}

// ClearFlush disarms the pending flush.
func (s *State) ClearFlush() { s.flushArmed.Store(false) }

// SetPlayEnabled toggles whether decoded audio may reach the output
// ring.
func (s *State) SetPlayEnabled(on bool) { s.playEnabled.Store(on) }

// PlayEnabled reports the current play-enable gate.
func (s *State) PlayEnabled() bool { return s.playEnabled.Load() }

// Latency returns the currently negotiated playback latency, in
// frames.
func (s *State) Latency() uint32 { return s.currentLatency.Load() }

// SetLatency updates the currently negotiated playback latency.
func (s *State) SetLatency(frames uint32) { s.currentLatency.Store(frames) }
