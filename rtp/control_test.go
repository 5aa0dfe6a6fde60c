package rtp

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/cwsl/airplaycore/clock"
	"github.com/stretchr/testify/require"
)

func buildSyncPacket(flags uint16, rtpLessLatency, rtpTimestamp uint32, remoteSecs, remoteFrac uint32) []byte {
	b := make([]byte, 20)
	b[0] = 0x80
	b[1] = TypeSync
	binary.BigEndian.PutUint16(b[2:4], flags)
	binary.BigEndian.PutUint32(b[4:8], rtpLessLatency)
	binary.BigEndian.PutUint32(b[8:12], remoteSecs)
	binary.BigEndian.PutUint32(b[12:16], remoteFrac)
	binary.BigEndian.PutUint32(b[16:20], rtpTimestamp)
	return b
}

func newTestReceiver(t *testing.T, cfg LatencyConfig) *ControlReceiver {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewControlReceiver(conn, clock.NewStore(nil), cfg)
}

func TestControlReceiver_FlagsSevenAppliesFixedOffset(t *testing.T) {
	cfg := LatencyConfig{
		FixedLatencyOffset: 11025,
		BufferFrames:       4096,
		MaxFramesPerPacket: 352,
	}
	r := newTestReceiver(t, cfg)

	pkt := buildSyncPacket(7, 1000, 1000+5000, 0, 0)
	r.handleSync(pkt)

	require.Equal(t, uint32(5000+11025), r.Latency())
}

func TestControlReceiver_NonSevenFlagsNoBonusForMidRangeVersion(t *testing.T) {
	cfg := LatencyConfig{
		FixedLatencyOffset: 11025,
		BufferFrames:       4096,
		MaxFramesPerPacket: 352,
	}
	r := newTestReceiver(t, cfg)
	r.SetAirPlayVersion(360) // within (353, 371), no bonus

	pkt := buildSyncPacket(4, 1000, 1000+5000, 0, 0)
	r.handleSync(pkt)

	require.Equal(t, uint32(5000), r.Latency())
}

func TestControlReceiver_OldVersionGetsBonusEvenWithoutFlagsSeven(t *testing.T) {
	cfg := LatencyConfig{
		FixedLatencyOffset: 11025,
		BufferFrames:       4096,
		MaxFramesPerPacket: 352,
	}
	r := newTestReceiver(t, cfg)
	r.SetAirPlayVersion(100) // <= 353

	pkt := buildSyncPacket(4, 1000, 1000+5000, 0, 0)
	r.handleSync(pkt)

	require.Equal(t, uint32(5000+11025), r.Latency())
}

func TestControlReceiver_SyncBeforeAudioEstablishesAnchor(t *testing.T) {
	cfg := LatencyConfig{BufferFrames: 4096, MaxFramesPerPacket: 352}
	r := newTestReceiver(t, cfg)

	pkt := buildSyncPacket(4, 1000, 2000, 5, 0)
	r.handleSync(pkt)

	require.True(t, r.anchor.Valid())
	resolved, err := r.anchor.Read()
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000_000), resolved.LocalTime)
}

func TestControlReceiver_MinimumFreeHeadroomNarrowsBackendOffsetClamp(t *testing.T) {
	cfg := LatencyConfig{
		BufferFrames:          4096,
		MaxFramesPerPacket:    352,
		MinimumFreeHeadroom:   4000, // leaves only 96 packets of headroom for the clamp
		AudioBackendOffsetSec: 1.0,
		InputRate:             44100,
	}
	r := newTestReceiver(t, cfg)

	// offset alone (44100 frames) already exceeds 352*(4096-4000)=33792,
	// so the adjusted latency must be rejected and la left at its
	// pre-offset value.
	pkt := buildSyncPacket(4, 1000, 1000+5000, 0, 0)
	r.handleSync(pkt)

	require.Equal(t, uint32(5000), r.Latency())
}

func TestControlReceiver_UserSuppliedLatencyOverridesComputation(t *testing.T) {
	cfg := LatencyConfig{UserSuppliedLatency: 9999, BufferFrames: 4096, MaxFramesPerPacket: 352}
	r := newTestReceiver(t, cfg)

	pkt := buildSyncPacket(7, 1000, 1000+5000, 0, 0)
	r.handleSync(pkt)

	require.Equal(t, uint32(9999), r.Latency())
}
