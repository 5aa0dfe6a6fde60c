package output

import "time"

// Backend is the capability set a driver back-end must expose. Not
// every back-end implements every optional capability; callers type-
// assert for DelayReporter/ExplicitTimer as needed.
type Backend interface {
	// Start begins consuming frames from ring at the given sample rate.
	Start(ring *Ring, sampleRate int) error
	// Stop halts consumption and releases any driver resources.
	Stop() error
}

// DelayReporter is implemented by back-ends that can report the
// driver's own output latency (frames already handed to hardware but
// not yet sounding), on top of whatever sits in the ring.
type DelayReporter interface {
	// Delay returns the total output delay, in frames: the
	// driver-reported latency plus the frames still in the ring.
	Delay() (int64, error)
}

// ExplicitTimer is implemented by back-ends that expose an explicit
// lmb/umb/occupancy timing tuple instead of a single delay figure.
// The tuple carries no separate toq/eoq read/write cursors.
type ExplicitTimer interface {
	TimingTuple() (TimingTuple, error)
}

// TimingTuple is the explicit timing information some back-ends
// report: the frame numbers bracketing the last and next hardware
// period, when that period was observed, and the current occupancy.
type TimingTuple struct {
	LowerMargin uint32 // lmb: frame number of the oldest frame still in hardware
	UpperMargin uint32 // umb: frame number one past the newest frame submitted
	ObservedAt  time.Time
	Occupancy   int64
}
