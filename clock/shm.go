package clock

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ShmStructuresVersion is the version this reader understands. It mirrors
// the producer daemon's NQPTP_SHM_STRUCTURES_VERSION constant; a record
// whose version differs is produced by an incompatible daemon build.
const ShmStructuresVersion = 8

const (
	recordSetSize  = 32 // MasterClockID, LocalTime, LocalToMasterOffset, MasterClockStartTime (u64 each)
	versionOffset  = 0
	mainOffset     = 8
	secondaryOffset = mainOffset + recordSetSize
	regionSize     = secondaryOffset + recordSetSize

	maxReadRetries = 10
	retrySleep     = 2 * time.Microsecond
)

// recordSet is one copy of the master clock parameters. Equality is
// byte-for-byte, matching the producer's memcmp-based consistency check.
type recordSet struct {
	MasterClockID         uint64
	LocalTime             uint64
	LocalToMasterOffset   int64
	MasterClockStartTime  uint64
}

// Snapshot is the clock information returned to a caller.
type Snapshot struct {
	ClockID         uint64
	LocalTime       uint64 // ns, as reported by the shared record at sample time
	OffsetToMaster  int64  // ns, local -> master
	MastershipStart uint64
}

// region abstracts the raw byte source behind the double-buffered torn
// read protocol, so the retry logic can be tested without a real mmap.
type region interface {
	readVersionAndSets() (version uint32, main, secondary recordSet)
}

// Reader implements the Shared-Clock Reader component: it performs the
// double-read protocol against a region until the two copies agree or
// the retry budget is exhausted, then validates the version and
// mastership before returning a Snapshot.
type Reader struct {
	src region
}

// mmapRegion backs Reader with a read-only mapping of a POSIX named
// shared memory region (conventionally exposed under /dev/shm by the
// PTP daemon).
type mmapRegion struct {
	file    *os.File
	mapping []byte
}

// OpenSharedMemory maps the named shared-memory region (e.g. "/nqptp")
// read-only and returns a Reader bound to it.
func OpenSharedMemory(name string) (*Reader, error) {
	path := "/dev/shm/" + trimLeadingSlash(name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("clock: open shared memory %q: %w: %w", path, err, ErrServiceUnavailable)
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, regionSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("clock: mmap %q: %w: %w", path, err, ErrAccess)
	}

	return &Reader{src: &mmapRegion{file: f, mapping: mapping}}, nil
}

func trimLeadingSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

// Close releases the mapping and underlying file descriptor.
func (r *Reader) Close() error {
	m, ok := r.src.(*mmapRegion)
	if !ok {
		return nil
	}
	var err error
	if m.mapping != nil {
		err = unix.Munmap(m.mapping)
		m.mapping = nil
	}
	if m.file != nil {
		if cerr := m.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (m *mmapRegion) readVersionAndSets() (version uint32, main, secondary recordSet) {
	// Both copies are read once each with plain loads through the
	// mapping; no memory fence is issued between or around them.
	// Consistency rests on the producer writing "main" before
	// "secondary" and on GetClockInfo comparing the two copies and
	// retrying when they differ.
	version = binary.LittleEndian.Uint32(m.mapping[versionOffset:])
	main = decodeRecordSet(m.mapping[mainOffset:])
	secondary = decodeRecordSet(m.mapping[secondaryOffset:])
	return
}

func decodeRecordSet(b []byte) recordSet {
	return recordSet{
		MasterClockID:        binary.LittleEndian.Uint64(b[0:8]),
		LocalTime:            binary.LittleEndian.Uint64(b[8:16]),
		LocalToMasterOffset:  int64(binary.LittleEndian.Uint64(b[16:24])),
		MasterClockStartTime: binary.LittleEndian.Uint64(b[24:32]),
	}
}

// GetClockInfo performs the bounded-retry double read and returns the
// current master clock snapshot, or one of the sentinel clock errors.
func (r *Reader) GetClockInfo() (Snapshot, error) {
	var version uint32
	var main recordSet
	consistent := false

	for attempt := 0; attempt < maxReadRetries; attempt++ {
		var secondary recordSet
		version, main, secondary = r.src.readVersionAndSets()
		if main == secondary {
			consistent = true
			break
		}
		time.Sleep(retrySleep)
	}

	if !consistent {
		return Snapshot{}, ErrDataUnavailable
	}
	if version == 0 {
		return Snapshot{}, ErrServiceUnavailable
	}
	if version != ShmStructuresVersion {
		return Snapshot{}, ErrVersionMismatch
	}
	if main.MasterClockID == 0 {
		return Snapshot{}, ErrNoMaster
	}

	return Snapshot{
		ClockID:         main.MasterClockID,
		LocalTime:       main.LocalTime,
		OffsetToMaster:  main.LocalToMasterOffset,
		MastershipStart: main.MasterClockStartTime,
	}, nil
}
