package ap2

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

type fakeDecoder struct {
	frameSize int
	calls     int
}

func (d *fakeDecoder) SetDebug(bool) {}
func (d *fakeDecoder) Decode(adtsFrame []byte) ([]byte, error) {
	d.calls++
	out := make([]byte, d.frameSize)
	for i := range out {
		out[i] = byte(d.calls)
	}
	return out, nil
}

func encryptFrame(t *testing.T, key []byte, seq uint16, timestamp uint32, plaintext []byte) []byte {
	t.Helper()
	aead, err := chacha20poly1305.New(key)
	require.NoError(t, err)

	header := make([]byte, 10)
	binary.BigEndian.PutUint16(header[0:2], seq)
	binary.BigEndian.PutUint32(header[2:6], timestamp)
	aad := header[2:10]

	nonceWire := make([]byte, 8)
	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[4:], nonceWire)

	ciphertext := aead.Seal(nil, nonce[:], plaintext, aad)

	frame := append(header[:2], aad...)
	frame = append(frame, ciphertext...)
	frame = append(frame, nonceWire...)
	return frame
}

func lengthPrefixed(frames [][]byte) []byte {
	var buf bytes.Buffer
	for _, f := range frames {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f)))
		buf.Write(lenBuf[:])
		buf.Write(f)
	}
	return buf.Bytes()
}

func TestPipeline_DecodesAndQueuesFrames(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, chacha20poly1305.KeySize)
	plaintext := bytes.Repeat([]byte{0x01}, 100)

	f1 := encryptFrame(t, key, 1, 1000, plaintext)
	f2 := encryptFrame(t, key, 2, 1352, plaintext)

	stream := bytes.NewReader(lengthPrefixed([][]byte{f1, f2}))
	decoder := &fakeDecoder{frameSize: 1408} // 352 frames * 4 bytes
	pcm := NewPCMQueue(10000)

	p := NewPipeline(stream, key, decoder, pcm)
	require.NoError(t, p.Run())

	require.Equal(t, 2, decoder.calls)
	require.Equal(t, 2*1408, pcm.Occupancy())
}

// Scenario 6: a flush armed mid-stream clears whatever was already
// buffered, then trims the leading edge of the block that satisfies
// the flush target once it arrives, and resumes normal queueing.
func TestPipeline_FlushTruncatesBufferedContentAtTargetBlock(t *testing.T) {
	key := bytes.Repeat([]byte{0x77}, chacha20poly1305.KeySize)
	plaintext := bytes.Repeat([]byte{0x02}, 1408)

	f0 := encryptFrame(t, key, 0, 1000, plaintext)
	f1 := encryptFrame(t, key, 1, 1352, plaintext)

	decoder := &fakeDecoder{frameSize: 1408} // 352 frames
	pcm := NewPCMQueue(10000)

	// block 0 decodes and queues normally, before any flush is armed.
	p := NewPipeline(bytes.NewReader(lengthPrefixed([][]byte{f0})), key, decoder, pcm)
	require.NoError(t, p.Run())
	require.Equal(t, 352*bytesPerFrame, pcm.Occupancy())

	// a flush for block 1 clears the still-buffered block 0 outright,
	// then trims the first 100 frames out of block 1 once it arrives.
	p2 := NewPipeline(bytes.NewReader(lengthPrefixed([][]byte{f1})), key, decoder, pcm)
	p2.RequestFlush(1, 1452)
	require.Equal(t, 0, pcm.Occupancy(), "raising the flush must clear block 0 immediately")

	require.NoError(t, p2.Run())

	require.Equal(t, (352-100)*bytesPerFrame, pcm.Occupancy())
	require.Equal(t, uint32(1452), pcm.readPointRTPTime)
}
