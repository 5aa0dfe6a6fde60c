package rtp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newResenderPair(t *testing.T) (*Resender, *net.UDPConn) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { serverConn.Close() })

	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	r := NewResender(clientConn, serverConn.LocalAddr().(*net.UDPAddr), 1000, 10)
	return r, serverConn
}

func TestResender_SendsWellFormedRequest(t *testing.T) {
	r, server := newResenderPair(t)

	r.RequestResend(42, 3)

	buf := make([]byte, 64)
	server.SetReadDeadline(time.Now().Add(time.Second))
	n, err := server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, byte(0xd5), buf[1]) // 0x55 | 0x80
}

func TestResender_BacksOffAfterSendError(t *testing.T) {
	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer clientConn.Close()

	r := NewResender(clientConn, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, 1000, 10)
	r.lastErrorAt = time.Now()
	r.hasLastError = true

	// within the backoff window, RequestResend must not even attempt a
	// send: it returns promptly and leaves the recorded send error in
	// place (a successful send would clear it).
	done := make(chan struct{})
	go func() {
		r.RequestResend(1, 1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestResend blocked despite backoff suppression")
	}

	r.mu.Lock()
	stillBackedOff := r.hasLastError
	r.mu.Unlock()
	require.True(t, stillBackedOff, "a suppressed request must not clear the backoff state")
}
