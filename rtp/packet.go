// Package rtp implements the classic (AirPlay-1) RTP transport: the
// audio, control (sync/timing) and resend-request packet formats and
// the receivers built on them.
package rtp

import "encoding/binary"

// Packet type bytes, masked out of the second header byte (the high
// marker bit is set on most of these and must be stripped first).
const (
	TypeAudio        = 0x60
	TypeAudioResend  = 0x56
	TypeSync         = 0xd4
	TypeTimingReply  = 0xd3
	TypeTimingReq    = 0xd2
	TypeResendApple  = 0x55
)

// PacketType strips the marker bit from the wire type byte.
func PacketType(b byte) byte { return b & 0x7f }

// AudioPacket is a parsed classic audio (or resent-audio) packet. A
// resend-wrapped packet carries an extra 4-byte original
// sequence/count header in front of the inner RTP packet; Payload
// always points at the inner 12-byte-header RTP packet's payload.
type AudioPacket struct {
	Marker    bool
	Type      byte
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	Payload   []byte
}

// ParseAudioPacket parses a 0x60 (plain audio) packet. The caller is
// responsible for stripping the 4-byte resend wrapper from a 0x56
// packet before calling this.
func ParseAudioPacket(b []byte) (AudioPacket, bool) {
	if len(b) < 12 {
		return AudioPacket{}, false
	}
	return AudioPacket{
		Marker:    b[1]&0x80 != 0,
		Type:      PacketType(b[1]),
		Sequence:  binary.BigEndian.Uint16(b[2:4]),
		Timestamp: binary.BigEndian.Uint32(b[4:8]),
		SSRC:      binary.BigEndian.Uint32(b[8:12]),
		Payload:   b[12:],
	}, true
}

// StripResendWrapper removes the 4-byte (original-sequence, ignored)
// header that precedes a resent audio packet's inner RTP packet.
func StripResendWrapper(b []byte) ([]byte, bool) {
	if len(b) < 4 {
		return nil, false
	}
	return b[4:], true
}

// SyncPacket is a parsed 0xd4 sync packet.
type SyncPacket struct {
	Flags                  uint16
	RTPTimestampLessLatency uint32
	RemoteTimeOfSync       uint64 // ns, derived from the packet's NTP-style timestamp
	RTPTimestamp           uint32
}

// ParseSyncPacket parses a 0xd4 sync packet per the classic wire
// layout: flags at offset 2, timestamp-less-latency at offset 4, a
// remote NTP-style timestamp at offset 8, and the sync RTP timestamp
// at offset 16.
func ParseSyncPacket(b []byte) (SyncPacket, bool) {
	if len(b) < 20 {
		return SyncPacket{}, false
	}
	secs := uint64(binary.BigEndian.Uint32(b[8:12]))
	frac := uint64(binary.BigEndian.Uint32(b[12:16]))
	remoteNs := secs*1_000_000_000 + (frac*1_000_000_000)>>32

	return SyncPacket{
		Flags:                   binary.BigEndian.Uint16(b[2:4]),
		RTPTimestampLessLatency: binary.BigEndian.Uint32(b[4:8]),
		RemoteTimeOfSync:        remoteNs,
		RTPTimestamp:            binary.BigEndian.Uint32(b[16:20]),
	}, true
}
