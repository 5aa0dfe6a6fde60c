// Package statusapi serves a read-only websocket that periodically
// pushes a JSON snapshot of the session's clock/timing/output state,
// for operator debugging. It carries no AirPlay GUI/metadata traffic.
package statusapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Snapshot is the JSON payload pushed to every connected client.
type Snapshot struct {
	AnchorRTPTime    uint32  `json:"anchor_rtp_time"`
	AnchorLocalTime  uint64  `json:"anchor_local_time_ns"`
	AnchorStale      bool    `json:"anchor_stale"`
	DriftGradient    float64 `json:"drift_gradient"`
	DriftIntercept   float64 `json:"drift_intercept"`
	FreshestDispersion uint64 `json:"freshest_dispersion"`
	RingOccupancy    int64   `json:"ring_occupancy_frames"`
	RingCapacity     int64   `json:"ring_capacity_frames"`
	PCMQueueBytes    int     `json:"pcm_queue_bytes"`
	LastErrorKind    string  `json:"last_error_kind,omitempty"`
}

// SnapshotFunc produces the current snapshot on demand; the caller's
// Service assembles it from whatever components it owns.
type SnapshotFunc func() Snapshot

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming connections and pushes a Snapshot on a
// fixed interval until the client disconnects.
type Server struct {
	snapshot SnapshotFunc
	interval time.Duration
	debug    bool
}

// NewServer builds a status server pushing snapshots every interval.
func NewServer(snapshot SnapshotFunc, interval time.Duration) *Server {
	return &Server{snapshot: snapshot, interval: interval}
}

func (s *Server) SetDebug(on bool) { s.debug = on }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.debug {
			log.Printf("statusapi: upgrade failed: %v", err)
		}
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for range ticker.C {
		data, err := json.Marshal(s.snapshot())
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if s.debug {
				log.Printf("statusapi: write failed, closing: %v", err)
			}
			return
		}
	}
}
