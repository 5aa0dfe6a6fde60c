package output

import (
	"fmt"
	"time"
)

// Driver is the minimal hand-off surface a real hardware/OS audio API
// binding must provide; ClassicBackend adapts it to the explicit
// lmb/umb/occupancy tuple shape of TimingTuple (no toq/eoq cursors).
type Driver interface {
	Open(sampleRate, channels int) error
	Close() error
	// Submit writes frames to the device, returning how many frames
	// were accepted.
	Submit(frames []int16) (int, error)
	// HardwarePointer returns the device's current read/write frame
	// counters (lmb, umb) and when they were sampled.
	HardwarePointer() (lmb, umb uint32, at time.Time, err error)
}

// ClassicBackend runs a pull loop that drains Ring into a Driver and
// republishes an explicit timing tuple after every submission.
type ClassicBackend struct {
	driver  Driver
	ring    *Ring
	timing  TimingData
	sampleRate int
	channels   int

	stop chan struct{}
	done chan struct{}
}

// NewClassicBackend builds a back-end around driver.
func NewClassicBackend(driver Driver, channels int) *ClassicBackend {
	return &ClassicBackend{driver: driver, channels: channels, stop: make(chan struct{}), done: make(chan struct{})}
}

func (b *ClassicBackend) Start(ring *Ring, sampleRate int) error {
	if err := b.driver.Open(sampleRate, b.channels); err != nil {
		return fmt.Errorf("output: open driver: %w", err)
	}
	b.ring = ring
	b.sampleRate = sampleRate
	go b.pump()
	return nil
}

func (b *ClassicBackend) Stop() error {
	close(b.stop)
	<-b.done
	return b.driver.Close()
}

func (b *ClassicBackend) pump() {
	defer close(b.done)
	buf := make([]int16, 1024*b.channels)
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		n := b.ring.Read(buf)
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		accepted, err := b.driver.Submit(buf[:n*b.channels])
		if err != nil {
			continue
		}

		lmb, umb, at, err := b.driver.HardwarePointer()
		if err == nil {
			b.timing.Publish(TimingTuple{
				LowerMargin: lmb,
				UpperMargin: umb,
				ObservedAt:  at,
				Occupancy:   b.ring.Occupancy(),
			})
		}
		_ = accepted
	}
}

// TimingTuple returns the most recently published explicit timing
// tuple, satisfying ExplicitTimer.
func (b *ClassicBackend) TimingTuple() (TimingTuple, error) {
	t, ok := b.timing.Load()
	if !ok {
		return TimingTuple{}, fmt.Errorf("output: no timing data published yet")
	}
	return t, nil
}
