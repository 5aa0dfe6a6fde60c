package clock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRegion corrupts the secondary record for a fixed number of reads
// before stabilising, exercising the bounded-retry torn-read protocol.
type fakeRegion struct {
	version        uint32
	main           recordSet
	badReads       int
	reads          int
}

func (f *fakeRegion) readVersionAndSets() (uint32, recordSet, recordSet) {
	f.reads++
	secondary := f.main
	if f.reads <= f.badReads {
		secondary.LocalTime++ // torn write: secondary hasn't caught up yet
	}
	return f.version, f.main, secondary
}

func TestGetClockInfo_TornReadRetriesThenSucceeds(t *testing.T) {
	src := &fakeRegion{
		version:  ShmStructuresVersion,
		main:     recordSet{MasterClockID: 0xABCD, LocalTime: 1000, LocalToMasterOffset: 50, MasterClockStartTime: 1},
		badReads: 3,
	}
	r := &Reader{src: src}

	snap, err := r.GetClockInfo()
	require.NoError(t, err)
	require.Equal(t, uint64(0xABCD), snap.ClockID)
	require.Equal(t, uint64(1000), snap.LocalTime)
	require.LessOrEqual(t, src.reads, maxReadRetries)
}

func TestGetClockInfo_GivesUpAfterRetryBudget(t *testing.T) {
	src := &fakeRegion{
		version:  ShmStructuresVersion,
		main:     recordSet{MasterClockID: 1},
		badReads: maxReadRetries + 5, // never stabilises
	}
	r := &Reader{src: src}

	_, err := r.GetClockInfo()
	require.True(t, errors.Is(err, ErrDataUnavailable))
	require.Equal(t, maxReadRetries, src.reads)
}

func TestGetClockInfo_ZeroVersionMeansUninitialised(t *testing.T) {
	src := &fakeRegion{version: 0, main: recordSet{MasterClockID: 1}}
	r := &Reader{src: src}

	_, err := r.GetClockInfo()
	require.True(t, errors.Is(err, ErrServiceUnavailable))
}

func TestGetClockInfo_VersionMismatch(t *testing.T) {
	src := &fakeRegion{version: ShmStructuresVersion + 1, main: recordSet{MasterClockID: 1}}
	r := &Reader{src: src}

	_, err := r.GetClockInfo()
	require.True(t, errors.Is(err, ErrVersionMismatch))
}

func TestGetClockInfo_NoMasterWhenClockIDZero(t *testing.T) {
	src := &fakeRegion{version: ShmStructuresVersion, main: recordSet{MasterClockID: 0}}
	r := &Reader{src: src}

	_, err := r.GetClockInfo()
	require.True(t, errors.Is(err, ErrNoMaster))
}
