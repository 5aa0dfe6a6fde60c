//go:build !aaceld
// +build !aaceld

package ap2

import "log"

// aacELDStub is the default Decoder when no platform AAC-ELD codec is
// compiled in: it reports its unavailability once and then produces
// silence of the expected frame size, so the rest of the pipeline
// (ring buffer occupancy, flush bookkeeping, output cadence) can still
// be exercised end to end without a real codec.
type aacELDStub struct {
	warned     bool
	frameSize  int // PCM bytes per decoded frame
	debug      bool
}

// NewDecoder returns the stub AAC-ELD decoder. Build with -tags aaceld
// against a real decoder implementation to replace it.
func NewDecoder(frameSize int) Decoder {
	return &aacELDStub{frameSize: frameSize}
}

func (d *aacELDStub) SetDebug(on bool) { d.debug = on }

func (d *aacELDStub) Decode(adtsFrame []byte) ([]byte, error) {
	if !d.warned {
		if d.debug {
			log.Printf("ap2: no AAC-ELD decoder compiled in (build with -tags aaceld); emitting silence")
		}
		d.warned = true
	}
	return make([]byte, d.frameSize), nil
}
