package ap2

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// DecryptAudioFrame decrypts one AEAD-protected audio frame, shared by
// both the realtime-audio UDP path (0xd6) and the buffered-audio TCP
// stream. The wire layout is: 2-byte sequence number, 4-byte
// timestamp, 4 further authenticated bytes (the SSRC), then
// ciphertext||tag, then
// an 8-byte nonce trailing the frame. The 8-byte wire nonce is
// front-padded with four zero bytes to the 12-byte IETF
// ChaCha20-Poly1305 nonce.
func DecryptAudioFrame(key []byte, frame []byte) (plaintext []byte, sequence uint16, timestamp uint32, err error) {
	if len(frame) <= 18 {
		return nil, 0, 0, fmt.Errorf("ap2: audio frame too short (%d bytes)", len(frame))
	}

	sequence = binary.BigEndian.Uint16(frame[0:2])
	timestamp = binary.BigEndian.Uint32(frame[2:6])

	aad := frame[2:10]
	ciphertextAndTag := frame[10 : len(frame)-8]
	nonceWire := frame[len(frame)-8:]

	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[4:], nonceWire)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("ap2: build AEAD cipher: %w", err)
	}

	plaintext, err = aead.Open(nil, nonce[:], ciphertextAndTag, aad)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("ap2: decrypt audio frame: %w", err)
	}
	return plaintext, sequence, timestamp, nil
}
