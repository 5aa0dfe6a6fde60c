package timing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNTPTimestamp_RoundTrip(t *testing.T) {
	for _, ns := range []uint64{0, 1, 1_500_000_000, 123_456_789_000} {
		encoded := encodeNTPTime(ns)
		decoded := decodeNTPTime(encoded)
		require.InDelta(t, int64(ns), int64(decoded), 10) // fractional rounding
	}
}

func TestBuildAndParseReply_RoundTrip(t *testing.T) {
	req := buildRequest(7, 1000)
	require.Equal(t, byte(0x80), req[0])
	require.Equal(t, byte(typeTimingRequest), req[1])

	reply := make([]byte, timingPacketSize)
	reply[0] = 0x80
	reply[1] = typeTimingReply
	reply[offsetSequence] = 0
	reply[offsetSequence+1] = 7
	copy(reply[offsetReceive:], encodeNTPTime(5000))
	copy(reply[offsetTransmit:], encodeNTPTime(6000))

	seq, receive, transmit, err := parseReply(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(7), seq)
	require.InDelta(t, 5000, receive, 10)
	require.InDelta(t, 6000, transmit, 10)
}

func TestParseReply_RejectsShortPacket(t *testing.T) {
	_, _, _, err := parseReply(make([]byte, 4))
	require.Error(t, err)
}

func TestParseReply_RejectsWrongType(t *testing.T) {
	b := make([]byte, timingPacketSize)
	b[1] = 0x99
	_, _, _, err := parseReply(b)
	require.Error(t, err)
}

func TestAcceptReply_DiscardsSlowRoundTrip(t *testing.T) {
	p := &PingExchanger{history: NewHistory(32), drift: NewDriftStore(), peer: "10.0.0.1"}

	departure := uint64(0)
	arrival := uint64(maxAcceptableReturnTime) // exactly at the threshold, must be rejected
	p.acceptReply(departure, arrival, 1000, 2000)

	require.Equal(t, 0, p.history.count, "a return time >= 200ms must never be inserted")
}

func TestAcceptReply_SubtractsRemoteProcessingTime(t *testing.T) {
	p := &PingExchanger{history: NewHistory(32), drift: NewDriftStore(), peer: "10.0.0.1"}

	departure := uint64(1_000_000)
	arrival := uint64(21_000_000)   // 20ms round trip
	receive := uint64(5_000_000)
	transmit := uint64(10_000_000) // 5ms remote processing

	p.acceptReply(departure, arrival, receive, transmit)

	require.Equal(t, 1, p.history.count)
	sample := p.history.samples[0]

	// adjusted return time = 20ms - 5ms = 15ms
	require.Equal(t, uint64(15_000_000), sample.Dispersion)
	require.Equal(t, arrival, sample.Local)
	require.Equal(t, transmit+15_000_000/2, sample.Remote)
}

func TestAcceptReply_IgnoresRemoteProcessingLargerThanReturnTime(t *testing.T) {
	p := &PingExchanger{history: NewHistory(32), drift: NewDriftStore(), peer: "10.0.0.1"}

	departure := uint64(1_000_000)
	arrival := uint64(6_000_000) // 5ms round trip
	receive := uint64(1_000_000)
	transmit := uint64(20_000_000) // 19ms remote processing, larger than round trip

	p.acceptReply(departure, arrival, receive, transmit)

	require.Equal(t, 1, p.history.count)
	sample := p.history.samples[0]
	// remote processing time exceeds return time, so the raw return
	// time of 5ms is used unmodified.
	require.Equal(t, uint64(5_000_000), sample.Dispersion)
	require.Equal(t, transmit+5_000_000/2, sample.Remote)
}

func TestAcceptReply_TreatsTransmitBeforeReceiveAsZeroProcessing(t *testing.T) {
	p := &PingExchanger{history: NewHistory(32), drift: NewDriftStore(), peer: "10.0.0.1"}

	departure := uint64(0)
	arrival := uint64(10_000_000) // 10ms round trip
	receive := uint64(8_000_000)
	transmit := uint64(2_000_000) // before receive

	p.acceptReply(departure, arrival, receive, transmit)

	require.Equal(t, 1, p.history.count)
	sample := p.history.samples[0]
	require.Equal(t, uint64(10_000_000), sample.Dispersion)
}

func TestPingExchanger_FitDriftRequiresEnoughSettledSamples(t *testing.T) {
	p := &PingExchanger{history: NewHistory(32), drift: NewDriftStore(), peer: "10.0.0.1"}

	for seq := uint32(1); seq <= settlingSequence; seq++ {
		p.history.Insert(uint64(seq)*1_000_000, uint64(seq)*1_000_000+500, seq, 100)
	}
	_, ok := p.fitDrift()
	require.False(t, ok, "samples at or before the settling sequence must not count")

	for seq := uint32(settlingSequence + 1); seq <= settlingSequence+uint32(minSamplesForDrift); seq++ {
		p.history.Insert(uint64(seq)*1_000_000, uint64(seq)*1_000_000+500, seq, 100)
	}
	model, ok := p.fitDrift()
	require.True(t, ok)
	require.InDelta(t, 1.0, model.Gradient, 0.01)
	require.Greater(t, model.Samples, 0)
}
