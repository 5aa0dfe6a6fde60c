// Package ap2 implements the AirPlay-2 transport: the buffered-audio
// TCP stream (encrypted AAC-ELD frames deframed, decrypted, ADTS-
// wrapped, decoded and queued as PCM), the realtime-audio UDP path
// used for ducked/alert streams, and the control packets (anchor and
// time-announce) that drive the PTP-backed clock.Store.
package ap2

import "encoding/binary"

// Control packet type bytes (second RTP-style header byte, no marker
// bit expected on these).
const (
	TypeAnchor       = 0xd5
	TypeRealtimeAudio = 0xd6
	TypeTimeAnnounce  = 0xd7
)

// AnchorPacket is a parsed 0xd5 control packet: two frame numbers
// bracketing the notified latency, the remote packet time the anchor
// is expressed against, and the PTP master clock id.
type AnchorPacket struct {
	Frame1          uint32 // frame the remote time refers to, before the fixed and backend offsets are taken off
	RemotePacketTime uint64 // ns
	Frame2          uint32 // Frame1 plus the notified latency
	ClockID         uint64
}

// ParseAnchorPacket parses a 0xd5 packet. Layout: 4-byte header,
// frame_1(32) at byte 4, remote_packet_time(64) at byte 8, frame_2(32)
// at byte 16, clock_id(64) at byte 20.
func ParseAnchorPacket(b []byte) (AnchorPacket, bool) {
	if len(b) < 28 {
		return AnchorPacket{}, false
	}
	return AnchorPacket{
		Frame1:           binary.BigEndian.Uint32(b[4:8]),
		RemotePacketTime: binary.BigEndian.Uint64(b[8:16]),
		Frame2:           binary.BigEndian.Uint32(b[16:20]),
		ClockID:          binary.BigEndian.Uint64(b[20:28]),
	}, true
}

