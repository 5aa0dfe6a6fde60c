package ap2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func frames(n int, fill byte) []byte {
	b := make([]byte, n*bytesPerFrame)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestPCMQueue_WholesaleDiscardWhenBehindFlushTarget(t *testing.T) {
	q := NewPCMQueue(1000)
	q.RequestFlush(10, 500)

	appended := q.Append(5, 100, frames(20, 0xAA))
	require.False(t, appended)
	require.Equal(t, 0, q.Occupancy())
}

func TestPCMQueue_TruncateInPlaceAtFlushTarget(t *testing.T) {
	q := NewPCMQueue(1000)
	q.RequestFlush(10, 150) // flush 50 frames out of the block starting at seq 10

	block := frames(80, 0xBB)
	appended := q.Append(10, 100, block)
	require.True(t, appended)
	require.Equal(t, (80-50)*bytesPerFrame, q.Occupancy())
	require.Equal(t, uint32(150), q.readPointRTPTime)
}

func TestPCMQueue_RequestFlushClearsBufferedOccupancyImmediately(t *testing.T) {
	q := NewPCMQueue(1000)
	q.Append(1, 100, frames(40, 0xAA))
	require.Equal(t, 40*bytesPerFrame, q.Occupancy())

	q.RequestFlush(10, 150)

	require.Equal(t, 0, q.Occupancy(), "a newly raised flush must clear whatever was already buffered")
	require.Equal(t, uint32(0), q.readPointRTPTime)
}

func TestPCMQueue_OvershootSatisfiesFlushWithoutTrimming(t *testing.T) {
	q := NewPCMQueue(1000)
	q.RequestFlush(10, 150)

	// the target block (seq 10) never arrives; seq 11 shows up first.
	appended := q.Append(11, 200, frames(30, 0xCC))
	require.True(t, appended)
	require.Equal(t, 30*bytesPerFrame, q.Occupancy())

	q.mu.Lock()
	stillArmed := q.flushRequested
	q.mu.Unlock()
	require.False(t, stillArmed)
}

func TestPCMQueue_ReadAdvancesReadPointAndCompactsBuffer(t *testing.T) {
	q := NewPCMQueue(1000)
	q.Append(1, 0, frames(10, 0xDD))

	out := make([]byte, 4*bytesPerFrame)
	n := q.Read(out)
	require.Equal(t, 4*bytesPerFrame, n)
	require.Equal(t, (10-4)*bytesPerFrame, q.Occupancy())
	require.Equal(t, uint32(4), q.readPointRTPTime)
}

func TestPCMQueue_AppendRespectsCapacity(t *testing.T) {
	q := NewPCMQueue(10)
	appended := q.Append(1, 0, frames(20, 0xEE))
	require.True(t, appended) // partial append still counts as "appended something"
	require.Equal(t, 10*bytesPerFrame, q.Occupancy())
}
