package ap2

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

type capturingPlayer struct {
	mu        sync.Mutex
	seq       uint16
	timestamp uint32
	payload   []byte
	calls     int
}

func (p *capturingPlayer) PushAudio(sequence uint16, timestamp uint32, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq = sequence
	p.timestamp = timestamp
	p.payload = append([]byte(nil), payload...)
	p.calls++
}

func (p *capturingPlayer) snapshot() (uint16, uint32, []byte, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq, p.timestamp, p.payload, p.calls
}

// realtimeDatagram builds one on-the-wire realtime-audio UDP packet: a
// leading 2-byte RTP-style header followed by an AEAD-protected frame
// in the layout DecryptAudioFrame expects.
func realtimeDatagram(t *testing.T, key []byte, seq uint16, timestamp uint32, plaintext []byte) []byte {
	t.Helper()
	aead, err := chacha20poly1305.New(key)
	require.NoError(t, err)

	frame := make([]byte, 10)
	binary.BigEndian.PutUint16(frame[0:2], seq)
	binary.BigEndian.PutUint32(frame[2:6], timestamp)
	aad := frame[2:10]

	var nonce [chacha20poly1305.NonceSize]byte
	nonceWire := make([]byte, 8)

	ciphertext := aead.Seal(nil, nonce[:], plaintext, aad)
	frame = append(frame, ciphertext...)
	frame = append(frame, nonceWire...)

	header := []byte{0x80, TypeRealtimeAudio}
	return append(header, frame...)
}

func TestRealtimeAudioReceiver_StripsLeadingTwoByteHeaderBeforeDecrypt(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("some decoded pcm samples go here")

	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	player := &capturingPlayer{}
	recv := NewRealtimeAudioReceiver(serverConn, key, player)
	go recv.Run()
	defer recv.Stop()

	datagram := realtimeDatagram(t, key, 42, 9001, plaintext)
	_, err = clientConn.Write(datagram)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, _, calls := player.snapshot()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	seq, timestamp, payload, _ := player.snapshot()
	require.Equal(t, uint16(42), seq)
	require.Equal(t, uint32(9001), timestamp)
	require.Equal(t, plaintext, payload)
}
