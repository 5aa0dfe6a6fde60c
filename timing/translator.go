package timing

import (
	"fmt"

	"github.com/cwsl/airplaycore/clock"
)

// Mode selects which clock discipline governs rate selection.
type Mode int

const (
	// ModeNTP is the classic AirPlay-1 discipline: the nominal sample
	// rate is used unless a recent drift-model ratio is both available
	// and within the validity band, in which case the observed rate
	// wins.
	ModeNTP Mode = iota
	// ModePTP is the AirPlay-2 discipline: the nominal sample rate is
	// always authoritative; drift is the PTP master's problem.
	ModePTP
)

const (
	observedRateMin = 0.998
	observedRateMax = 1.002
)

// AnchorSource is the subset of *clock.Store the translator depends on.
type AnchorSource interface {
	Read() (clock.ResolvedAnchor, error)
}

// ObservedRateFunc returns the most recently fitted playback rate in Hz
// and whether one is available at all.
type ObservedRateFunc func() (hz float64, ok bool)

// Translator converts between RTP frame counts and local nanosecond
// timestamps given a resolved anchor.
type Translator struct {
	anchors      AnchorSource
	nominalRate  float64
	mode         Mode
	observedRate ObservedRateFunc
}

// NewTranslator builds a Translator for the given nominal sample rate
// (e.g. 44100) and clock discipline.
func NewTranslator(anchors AnchorSource, nominalRate float64, mode Mode, observed ObservedRateFunc) *Translator {
	return &Translator{anchors: anchors, nominalRate: nominalRate, mode: mode, observedRate: observed}
}

func (t *Translator) effectiveRate() float64 {
	if t.mode != ModeNTP || t.observedRate == nil {
		return t.nominalRate
	}
	hz, ok := t.observedRate()
	if !ok {
		return t.nominalRate
	}
	ratio := hz / t.nominalRate
	if ratio < observedRateMin || ratio > observedRateMax {
		return t.nominalRate
	}
	return hz
}

// FrameToLocalTime converts an RTP timestamp (frame count) into a local
// nanosecond timestamp using the current anchor.
func (t *Translator) FrameToLocalTime(rtpFrame uint32) (uint64, error) {
	anchor, err := t.anchors.Read()
	if err != nil {
		return 0, fmt.Errorf("timing: resolve anchor: %w", err)
	}

	deltaFrames := int64(int32(rtpFrame - anchor.RTPTime))
	rate := t.effectiveRate()
	deltaNs := int64(float64(deltaFrames) / rate * 1e9)

	return uint64(int64(anchor.LocalTime) + deltaNs), nil
}

// LocalTimeToFrame is the inverse of FrameToLocalTime.
func (t *Translator) LocalTimeToFrame(localNs uint64) (uint32, error) {
	anchor, err := t.anchors.Read()
	if err != nil {
		return 0, fmt.Errorf("timing: resolve anchor: %w", err)
	}

	deltaNs := int64(localNs) - int64(anchor.LocalTime)
	rate := t.effectiveRate()
	deltaFrames := int64(float64(deltaNs) / 1e9 * rate)

	return anchor.RTPTime + uint32(deltaFrames), nil
}
