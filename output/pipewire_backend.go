package output

import "fmt"

// StreamDriver is the hand-off surface for a modern callback-driven
// audio API (PipeWire/PulseAudio-style): the driver calls back into
// Pull whenever it needs more frames, and separately reports its own
// internal latency.
type StreamDriver interface {
	Open(sampleRate, channels int, pull func(out []int16) int) error
	Close() error
	// Latency returns the driver's own internal output latency, in
	// frames, on top of whatever is still sitting in the ring.
	Latency() (int64, error)
}

// PipewireBackend adapts a StreamDriver to Backend/DelayReporter. The
// driver pulls directly from the ring on its own thread, so the ring's
// lock-free Read is exercised from a thread this process doesn't
// control.
type PipewireBackend struct {
	driver   StreamDriver
	ring     *Ring
	channels int
}

// NewPipewireBackend builds a back-end around driver.
func NewPipewireBackend(driver StreamDriver, channels int) *PipewireBackend {
	return &PipewireBackend{driver: driver, channels: channels}
}

func (b *PipewireBackend) Start(ring *Ring, sampleRate int) error {
	b.ring = ring
	return b.driver.Open(sampleRate, b.channels, ring.Read)
}

func (b *PipewireBackend) Stop() error {
	return b.driver.Close()
}

// Delay combines the driver-reported latency with the ring's current
// occupancy, giving the caller the total end-to-end output delay in
// frames.
func (b *PipewireBackend) Delay() (int64, error) {
	driverLatency, err := b.driver.Latency()
	if err != nil {
		return 0, fmt.Errorf("output: query driver latency: %w", err)
	}
	return driverLatency + b.ring.Occupancy(), nil
}
