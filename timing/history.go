// Package timing implements the NTP-style ping exchange, the bounded
// timing-sample history it maintains, the least-squares drift model,
// and the RTP-frame <-> local-time translator built on top of them.
package timing

import (
	"math"
	"math/bits"
)

// diffusionExpansionFactor is the ratio by which a sample's dispersion
// grows over the lifetime of the history.
const diffusionExpansionFactor = 10.0

// Sample is one round-trip timing observation.
type Sample struct {
	Local      uint64
	Remote     uint64
	Sequence   uint32
	Dispersion uint64
	Chosen     bool
}

// History is a fixed-size ordered buffer of Samples: insertion at
// head, with every existing sample's dispersion aged by a constant
// multiplicative factor so that after a full history of insertions
// the oldest sample has expanded by diffusionExpansionFactor.
type History struct {
	samples    []Sample
	count      int
	agingPPM   uint64 // multiplier*1e6, applied and divided by 1e6 per insert
	powerOfTwo uint   // log2(len(samples)), used to scale values before least-squares
}

// NewHistory creates a History of the given power-of-two length.
func NewHistory(length int) *History {
	if length <= 0 || length&(length-1) != 0 {
		panic("timing: history length must be a power of two")
	}
	logMultiplier := math.Log10(diffusionExpansionFactor) / float64(length)
	multiplier := math.Pow(10, logMultiplier)
	return &History{
		samples:    make([]Sample, length),
		agingPPM:   uint64(multiplier * 1e6),
		powerOfTwo: uint(bits.TrailingZeros(uint(length))),
	}
}

// PowerOfTwo returns log2 of the history length.
func (h *History) PowerOfTwo() uint { return h.powerOfTwo }

// Len returns the number of occupied slots (<= capacity).
func (h *History) Len() int { return h.count }

// Insert ages all existing samples' dispersions, inserts the new
// sample at the head, and returns the sample currently selected as
// "chosen" (the one with minimum dispersion across the occupied
// history). Insert never un-chooses a sample that was chosen in a
// previous round.
func (h *History) Insert(local, remote uint64, sequence uint32, dispersion uint64) Sample {
	for i := len(h.samples) - 1; i > 0; i-- {
		h.samples[i] = h.samples[i-1]
		h.samples[i].Dispersion = h.samples[i].Dispersion * h.agingPPM / 1_000_000
	}
	h.samples[0] = Sample{Local: local, Remote: remote, Sequence: sequence, Dispersion: dispersion}
	if h.count < len(h.samples) {
		h.count++
	}
	return h.selectChosen()
}

func (h *History) selectChosen() Sample {
	chosen := 0
	min := h.samples[0].Dispersion
	for i := 1; i < h.count; i++ {
		if h.samples[i].Dispersion < min {
			chosen = i
			min = h.samples[i].Dispersion
		}
	}
	h.samples[chosen].Chosen = true
	return h.samples[chosen]
}

// ChosenAfter returns, oldest-insertion-order not guaranteed, every
// sample marked Chosen whose Sequence exceeds the settling threshold,
// the population the drift estimator regresses over.
func (h *History) ChosenAfter(settlingSequence uint32) []Sample {
	out := make([]Sample, 0, h.count)
	for i := 0; i < h.count; i++ {
		s := h.samples[i]
		if s.Chosen && s.Sequence > settlingSequence {
			out = append(out, s)
		}
	}
	return out
}
