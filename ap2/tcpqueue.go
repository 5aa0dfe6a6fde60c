package ap2

import "sync"

// ByteQueue is a bounded byte ring with blocking Push/Pull for a
// producer/consumer hand-off: one condition variable wakes waiting
// readers, another wakes waiting writers. No other code in the module
// uses it: the buffered-audio Pipeline reads the TCP connection
// directly, with no separate reader goroutine in between.
type ByteQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf        []byte
	readIndex  int
	writeIndex int
	size       int // occupied bytes

	closed bool
}

// NewByteQueue creates a queue with the given byte capacity.
func NewByteQueue(capacity int) *ByteQueue {
	q := &ByteQueue{buf: make([]byte, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push copies all of p into the queue, blocking while it is full.
// Push returns false if the queue was closed before all of p could be
// written.
func (q *ByteQueue) Push(p []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(p) > 0 {
		for q.size == len(q.buf) && !q.closed {
			q.notFull.Wait()
		}
		if q.closed {
			return false
		}

		free := len(q.buf) - q.size
		contiguous := len(q.buf) - q.writeIndex
		room := min(free, contiguous)
		if room > len(p) {
			room = len(p)
		}

		n := copy(q.buf[q.writeIndex:q.writeIndex+room], p)
		q.writeIndex = (q.writeIndex + n) % len(q.buf)
		q.size += n
		p = p[n:]

		q.notEmpty.Signal()
	}
	return true
}

// Pull reads up to len(p) bytes, blocking until at least one byte is
// available or the queue is closed and drained. It returns the number
// of bytes read and false once there is nothing left to read.
func (q *ByteQueue) Pull(p []byte) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.size == 0 && q.closed {
		return 0, false
	}

	contiguous := len(q.buf) - q.readIndex
	avail := min(q.size, contiguous)

	n := copy(p, q.buf[q.readIndex:q.readIndex+avail])
	q.readIndex = (q.readIndex + n) % len(q.buf)
	q.size -= n

	q.notFull.Signal()
	return n, true
}

// Close unblocks any waiting Push/Pull calls permanently.
func (q *ByteQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
