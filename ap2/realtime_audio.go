package ap2

import (
	"log"
	"net"
)

// RealtimePlayer is the hand-off target for decrypted realtime-audio
// (0xd6) PCM payloads, used for ducked/alert streams that bypass the
// buffered TCP path.
type RealtimePlayer interface {
	PushAudio(sequence uint16, timestamp uint32, payload []byte)
}

// RealtimeAudioReceiver reads AEAD-protected audio packets off a UDP
// socket and decrypts them with the session's negotiated key.
type RealtimeAudioReceiver struct {
	conn   *net.UDPConn
	key    []byte
	player RealtimePlayer
	debug  bool

	stop chan struct{}
	done chan struct{}
}

// NewRealtimeAudioReceiver builds a receiver bound to conn, decrypting
// with key (the session's negotiated AEAD key).
func NewRealtimeAudioReceiver(conn *net.UDPConn, key []byte, player RealtimePlayer) *RealtimeAudioReceiver {
	return &RealtimeAudioReceiver{conn: conn, key: key, player: player, stop: make(chan struct{}), done: make(chan struct{})}
}

func (r *RealtimeAudioReceiver) SetDebug(on bool) { r.debug = on }

// Run reads and decrypts packets until Stop is called.
func (r *RealtimeAudioReceiver) Run() {
	defer close(r.done)
	buf := make([]byte, 4096)
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.stop:
				return
			default:
				continue
			}
		}

		if n < 2 {
			continue
		}
		// every datagram on this socket carries a leading 2-byte
		// RTP-style header ahead of the AEAD-protected payload.
		plaintext, seq, timestamp, err := DecryptAudioFrame(r.key, buf[2:n])
		if err != nil {
			if r.debug {
				log.Printf("ap2: %v", err)
			}
			continue
		}
		r.player.PushAudio(seq, timestamp, plaintext)
	}
}

// Stop closes the socket to unblock Run and waits for it to exit.
func (r *RealtimeAudioReceiver) Stop() {
	close(r.stop)
	r.conn.Close()
	<-r.done
}
