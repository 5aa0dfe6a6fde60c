package ap2

import (
	"errors"
	"io"
	"log"
)

// Pipeline wires the buffered-audio TCP stages together: deframe ->
// decrypt -> ADTS-wrap -> decode -> queue as PCM, consuming one frame
// at a time off a Deframer.
type Pipeline struct {
	deframer *Deframer
	key      []byte
	decoder  Decoder
	pcm      *PCMQueue
	debug    bool
}

// NewPipeline builds a Pipeline reading frames from r, decrypting with
// key, decoding with decoder, and staging PCM in pcm.
func NewPipeline(r io.Reader, key []byte, decoder Decoder, pcm *PCMQueue) *Pipeline {
	return &Pipeline{deframer: NewDeframer(r), key: key, decoder: decoder, pcm: pcm}
}

func (p *Pipeline) SetDebug(on bool) { p.debug = on }

// RequestFlush arms a flush on the underlying PCM queue.
func (p *Pipeline) RequestFlush(untilSeq, untilTS uint32) {
	p.pcm.RequestFlush(untilSeq, untilTS)
}

// Run processes frames until the stream ends or a non-EOF error
// occurs.
func (p *Pipeline) Run() error {
	for {
		frame, err := p.deframer.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := p.processFrame(frame); err != nil && p.debug {
			log.Printf("ap2: dropping frame: %v", err)
		}
	}
}

func (p *Pipeline) processFrame(frame []byte) error {
	plaintext, seq, timestamp, err := DecryptAudioFrame(p.key, frame)
	if err != nil {
		return err
	}

	adts := FrameWithADTS(plaintext)
	pcm, err := p.decoder.Decode(adts)
	if err != nil {
		return err
	}

	p.pcm.Append(uint32(seq), timestamp, pcm)
	return nil
}
