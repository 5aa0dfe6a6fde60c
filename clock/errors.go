// Package clock reads the PTP master clock exposed by a separate daemon
// through a versioned, torn-write-protected shared-memory record, and
// maintains the session's anchor between the source RTP timeline and
// that clock's domain.
package clock

import "errors"

// Error kinds returned by OpenSharedMemory (ErrServiceUnavailable,
// ErrAccess) and Reader.GetClockInfo (all but ErrAccess), matching the
// outcome taxonomy for the shared-clock subsystem.
var (
	ErrServiceUnavailable = errors.New("clock: shared memory region absent or not yet initialised")
	ErrVersionMismatch    = errors.New("clock: shared memory structure version mismatch")
	ErrDataUnavailable    = errors.New("clock: main and secondary records disagree after retries")
	ErrNoMaster           = errors.New("clock: no master clock selected")
	ErrAccess             = errors.New("clock: could not access shared memory region")
)
