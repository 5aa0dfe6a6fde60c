// Package output implements the audio output bridge: a lock-free
// single-producer/single-consumer ring buffer feeding a pluggable
// driver back-end, matching the realtime-audio-callback constraint
// that the consumer side must never allocate or block on a mutex.
package output

import "sync/atomic"

// defaultSeconds and the nominal rate size the default ring at
// roughly four seconds of 44.1kHz 16-bit stereo audio.
const (
	defaultSampleRate = 44100
	defaultChannels   = 2
	defaultBitDepth   = 2 // bytes per sample
	defaultSeconds    = 4
)

// DefaultCapacityFrames is the baseline ring size in frames.
const DefaultCapacityFrames = defaultSampleRate * defaultSeconds

// Ring is a lock-free SPSC ring buffer of interleaved PCM frames. One
// goroutine may call Write; a single different goroutine (typically a
// realtime audio callback) may call Read concurrently. Neither side
// allocates or blocks.
type Ring struct {
	buf         []int16 // interleaved samples, channels per frame
	channels    int
	capacity    int64 // frames
	head        atomic.Int64 // next frame index to write
	tail        atomic.Int64 // next frame index to read
}

// NewRing creates a Ring with capacity for capacityFrames frames of
// the given channel count.
func NewRing(capacityFrames, channels int) *Ring {
	if channels <= 0 {
		channels = defaultChannels
	}
	return &Ring{
		buf:      make([]int16, capacityFrames*channels),
		channels: channels,
		capacity: int64(capacityFrames),
	}
}

// Occupancy returns the number of frames currently buffered. Safe to
// call from either side.
func (r *Ring) Occupancy() int64 {
	return r.head.Load() - r.tail.Load()
}

// Free returns the number of frames of headroom before the buffer is
// full.
func (r *Ring) Free() int64 {
	return r.capacity - r.Occupancy()
}

// Write appends up to len(frames)/channels frames (interleaved int16
// samples) and returns how many whole frames were actually written;
// it never blocks, silently dropping frames that don't fit.
func (r *Ring) Write(frames []int16) int {
	n := int64(len(frames) / r.channels)
	free := r.Free()
	if n > free {
		n = free
	}
	if n <= 0 {
		return 0
	}

	head := r.head.Load()
	for i := int64(0); i < n; i++ {
		slot := (head + i) % r.capacity
		copy(r.buf[slot*int64(r.channels):(slot+1)*int64(r.channels)], frames[i*int64(r.channels):(i+1)*int64(r.channels)])
	}
	r.head.Add(n)
	return int(n)
}

// Read copies up to len(out)/channels frames into out and returns how
// many whole frames were read; it never blocks, returning 0 if the
// ring is empty.
func (r *Ring) Read(out []int16) int {
	n := int64(len(out) / r.channels)
	occ := r.Occupancy()
	if n > occ {
		n = occ
	}
	if n <= 0 {
		return 0
	}

	tail := r.tail.Load()
	for i := int64(0); i < n; i++ {
		slot := (tail + i) % r.capacity
		copy(out[i*int64(r.channels):(i+1)*int64(r.channels)], r.buf[slot*int64(r.channels):(slot+1)*int64(r.channels)])
	}
	r.tail.Add(n)
	return int(n)
}

// Flush discards all buffered frames, advancing the read side to meet
// the write side. Only safe to call when the consumer side is not
// concurrently reading (e.g. during a negotiated flush window).
func (r *Ring) Flush() {
	r.tail.Store(r.head.Load())
}

// Capacity returns the ring's frame capacity.
func (r *Ring) Capacity() int64 { return r.capacity }
