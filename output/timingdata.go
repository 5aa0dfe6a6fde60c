package output

import (
	"sync/atomic"
	"time"
)

// timingRecord is one copy of a driver timing observation. TimingData
// keeps two of them behind a version counter: Publish fills the slot
// the reader is not pointed at and then bumps the version, and Load
// re-reads the version after copying a slot and retries (a bounded
// number of times, like clock.Reader) if a Publish overlapped the copy.
type timingRecord struct {
	LowerMargin uint32
	UpperMargin uint32
	ObservedNs  int64
	Occupancy   int64
}

// TimingData publishes the most recent TimingTuple from a driver
// callback (often a different OS thread than the one reading it) via
// a version counter and double buffer, avoiding a mutex on the
// read-hot path.
type TimingData struct {
	version atomic.Uint64
	slots   [2]timingRecord
}

// Publish stores a new observation. Safe to call from the driver's own
// callback thread.
func (t *TimingData) Publish(tuple TimingTuple) {
	v := t.version.Load()
	next := (v + 1) % 2
	t.slots[next] = timingRecord{
		LowerMargin: tuple.LowerMargin,
		UpperMargin: tuple.UpperMargin,
		ObservedNs:  tuple.ObservedAt.UnixNano(),
		Occupancy:   tuple.Occupancy,
	}
	t.version.Store(v + 1)
}

// Load returns the most recently published observation. It reports
// false when nothing has been published yet, or when the version kept
// changing across every retry.
func (t *TimingData) Load() (TimingTuple, bool) {
	const maxReadRetries = 10
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		v := t.version.Load()
		if v == 0 {
			return TimingTuple{}, false
		}
		rec := t.slots[v%2]
		if t.version.Load() != v {
			continue
		}
		return TimingTuple{
			LowerMargin: rec.LowerMargin,
			UpperMargin: rec.UpperMargin,
			ObservedAt:  time.Unix(0, rec.ObservedNs),
			Occupancy:   rec.Occupancy,
		}, true
	}
	return TimingTuple{}, false
}
