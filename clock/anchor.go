package clock

import (
	"sync"
	"time"
)

// flapProtectionWindow is how long a just-changed master clock id is
// ignored in favour of the cached offset, so a PTP master flapping
// mid-stream doesn't stutter or reset the timeline.
const flapProtectionWindow = 5 * time.Second

// Source is the subset of Reader the Anchor Store depends on, so tests
// can supply a fake without a real shared-memory mapping.
type Source interface {
	GetClockInfo() (Snapshot, error)
}

// Anchor is the stored (rtp_time, network_time, master_clock_id)
// triple. NetworkTime is expressed in the master clock's domain; for a
// classic (non-PTP) session MasterClockID is zero and NetworkTime is
// already a local monotonic timestamp.
type Anchor struct {
	RTPTime              uint32
	NetworkTime          uint64
	MasterClockID        uint64
	LastObservedOffsetNs int64
	LastUpdateLocalNs    uint64
}

// ResolvedAnchor is an Anchor translated into the caller's local
// monotonic timeline, ready for the Time Translator.
type ResolvedAnchor struct {
	RTPTime   uint32
	LocalTime uint64 // ns
	Stale     bool   // true when a cached/fallback offset was used
}

// Store holds the session's current anchor and resolves it against the
// Shared-Clock Reader on every read, handling master-clock changes
// without disturbing playback.
type Store struct {
	mu sync.Mutex

	clock Source // nil for classic (non-PTP) sessions

	anchor Anchor
	valid  bool

	cachedOffset     int64
	haveCachedOffset bool

	now func() time.Time
}

// NewStore creates an Anchor Store. clock may be nil for classic
// AirPlay-1 sessions, which set the anchor directly in local time via
// SetLocalAnchor and never consult a shared clock.
func NewStore(clock Source) *Store {
	return &Store{clock: clock, now: time.Now}
}

// SetLocalAnchor installs an anchor already expressed in the caller's
// local monotonic clock (the classic control-receiver path).
func (s *Store) SetLocalAnchor(rtpTime uint32, localTimeNs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = Anchor{RTPTime: rtpTime, NetworkTime: localTimeNs, MasterClockID: 0}
	s.valid = true
	s.cachedOffset = 0
	s.haveCachedOffset = true
}

// SetRemoteAnchor installs an anchor expressed in a PTP master clock's
// domain (the AP2 control-receiver path).
func (s *Store) SetRemoteAnchor(rtpTime uint32, networkTimeNs uint64, clockID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = Anchor{RTPTime: rtpTime, NetworkTime: networkTimeNs, MasterClockID: clockID}
	s.anchor.LastUpdateLocalNs = uint64(s.now().UnixNano())
	s.valid = true
}

// Reset clears the anchor, e.g. on flush or teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = Anchor{}
	s.valid = false
	s.cachedOffset = 0
	s.haveCachedOffset = false
}

// Valid reports whether an anchor has ever been set.
func (s *Store) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Read resolves the stored anchor into the local timeline:
//  1. classic anchors (MasterClockID == 0) need no clock reader at all.
//  2. if the shared clock's current master matches the stored one, the
//     anchor is valid as-is; cache the offset for fallback.
//  3. if it differs but the anchor is younger than the flap window,
//     keep using the cached offset.
//  4. if it differs and the anchor is older than the flap window,
//     rebase the anchor onto the new master.
//  5. if the clock reader fails but a cached offset exists, return the
//     anchor using that cached offset with Stale set.
func (s *Store) Read() (ResolvedAnchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.valid {
		return ResolvedAnchor{}, ErrNoMaster
	}

	if s.anchor.MasterClockID == 0 {
		return ResolvedAnchor{RTPTime: s.anchor.RTPTime, LocalTime: s.anchor.NetworkTime}, nil
	}

	if s.clock == nil {
		return ResolvedAnchor{}, ErrServiceUnavailable
	}

	current, err := s.clock.GetClockInfo()
	if err != nil {
		if s.haveCachedOffset {
			return ResolvedAnchor{
				RTPTime:   s.anchor.RTPTime,
				LocalTime: s.anchor.NetworkTime - uint64(s.cachedOffset),
				Stale:     true,
			}, nil
		}
		return ResolvedAnchor{}, err
	}

	if current.ClockID == s.anchor.MasterClockID {
		s.cachedOffset = current.OffsetToMaster
		s.haveCachedOffset = true
		s.anchor.LastObservedOffsetNs = current.OffsetToMaster
		s.anchor.LastUpdateLocalNs = uint64(s.now().UnixNano())
		return ResolvedAnchor{
			RTPTime:   s.anchor.RTPTime,
			LocalTime: s.anchor.NetworkTime - uint64(current.OffsetToMaster),
		}, nil
	}

	// Master clock id has changed.
	age := time.Duration(uint64(s.now().UnixNano()) - s.anchor.LastUpdateLocalNs)
	if age < flapProtectionWindow {
		if !s.haveCachedOffset {
			return ResolvedAnchor{}, ErrDataUnavailable
		}
		return ResolvedAnchor{
			RTPTime:   s.anchor.RTPTime,
			LocalTime: s.anchor.NetworkTime - uint64(s.cachedOffset),
			Stale:     true,
		}, nil
	}

	// Rebase across clocks: convert the anchor to local time using the
	// old offset, then re-express it in the new master's domain.
	oldOffset := s.cachedOffset
	newNetworkTime := s.anchor.NetworkTime - uint64(oldOffset) + uint64(current.OffsetToMaster)
	s.anchor.NetworkTime = newNetworkTime
	s.anchor.MasterClockID = current.ClockID
	s.anchor.LastObservedOffsetNs = current.OffsetToMaster
	s.anchor.LastUpdateLocalNs = uint64(s.now().UnixNano())
	s.cachedOffset = current.OffsetToMaster
	s.haveCachedOffset = true

	return ResolvedAnchor{
		RTPTime:   s.anchor.RTPTime,
		LocalTime: newNetworkTime - uint64(current.OffsetToMaster),
	}, nil
}
