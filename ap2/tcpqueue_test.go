package ap2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestByteQueue_PushPullRoundTrip(t *testing.T) {
	q := NewByteQueue(16)
	require.True(t, q.Push([]byte("hello")))

	out := make([]byte, 5)
	n, ok := q.Pull(out)
	require.True(t, ok)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))
}

func TestByteQueue_WrapsAroundCapacity(t *testing.T) {
	q := NewByteQueue(8)
	require.True(t, q.Push([]byte("abcdef"))) // 6 bytes, 2 free
	out := make([]byte, 4)
	n, _ := q.Pull(out)
	require.Equal(t, 4, n) // "abcd" consumed, writeIndex still at 6, readIndex at 4

	require.True(t, q.Push([]byte("ghijkl"))) // wraps: 2 bytes at tail, 4 bytes at head
	rest := make([]byte, 8)
	total := 0
	for total < 8 {
		n, ok := q.Pull(rest[total:])
		if !ok {
			break
		}
		total += n
	}
	require.Equal(t, "efghijkl", string(rest[:total]))
}

func TestByteQueue_PullBlocksThenUnblocksOnPush(t *testing.T) {
	q := NewByteQueue(4)
	done := make(chan string, 1)
	go func() {
		out := make([]byte, 3)
		n, ok := q.Pull(out)
		if !ok {
			done <- ""
			return
		}
		done <- string(out[:n])
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine block on notEmpty
	q.Push([]byte("hey"))

	select {
	case v := <-done:
		require.Equal(t, "hey", v)
	case <-time.After(time.Second):
		t.Fatal("Pull never unblocked")
	}
}

func TestByteQueue_CloseUnblocksWaiters(t *testing.T) {
	q := NewByteQueue(4)
	done := make(chan bool, 1)
	go func() {
		out := make([]byte, 3)
		_, ok := q.Pull(out)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pull never unblocked after Close")
	}
}
