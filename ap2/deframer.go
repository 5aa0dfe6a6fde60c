package ap2

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Deframer pulls length-prefixed encrypted audio frames off the
// buffered-audio TCP connection. Each frame on the wire is a 2-byte
// big-endian length prefix followed by that many bytes of the
// AEAD-protected frame described in DecryptAudioFrame.
type Deframer struct {
	r      io.Reader
	lenBuf [2]byte
}

// NewDeframer wraps r.
func NewDeframer(r io.Reader) *Deframer {
	return &Deframer{r: r}
}

// Next reads and returns the next whole frame, or an error (including
// io.EOF when the connection closes cleanly between frames).
func (d *Deframer) Next() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(d.lenBuf[:])
	if n == 0 {
		return nil, fmt.Errorf("ap2: zero-length frame")
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(d.r, frame); err != nil {
		return nil, fmt.Errorf("ap2: short frame body: %w", err)
	}
	return frame, nil
}
