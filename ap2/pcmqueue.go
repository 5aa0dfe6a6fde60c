package ap2

import (
	"log"
	"sync"
)

// bytesPerFrame is 2 channels * 16-bit samples.
const bytesPerFrame = 4

// BytesPerFrame exports bytesPerFrame for callers outside this
// package sizing chunks against the queue (the Schedule-to-play
// consumer's 352-frame hand-off).
const BytesPerFrame = bytesPerFrame

// PCMQueue is the decoded-PCM staging buffer between the AAC decoder
// and the output ring: a flat byte array compacted in place (not a
// true ring) so that a flush can trim an arbitrary number of frames
// off its front, matching the three flush outcomes a buffered-audio
// stream can hit:
//
//   - wholesale discard: an entire decoded block arrives still behind
//     the flush target sequence and is dropped outright.
//   - truncate in place: the block containing the flush target
//     arrives; everything up to the target timestamp is trimmed from
//     the front of the buffer.
//   - overshoot: the flush target sequence was skipped over (e.g. it
//     was itself dropped upstream); the flush is considered satisfied
//     without trimming anything.
type PCMQueue struct {
	mu    sync.Mutex
	buf   []byte
	fill  int
	debug bool

	readPointRTPTime uint32

	flushRequested bool
	flushUntilSeq  uint32
	flushUntilTS   uint32

	lastFlushedSeq uint32
	lastFlushedTS  uint32
}

// NewPCMQueue creates a queue with capacity for capacityFrames frames.
func NewPCMQueue(capacityFrames int) *PCMQueue {
	return &PCMQueue{buf: make([]byte, capacityFrames*bytesPerFrame)}
}

func (q *PCMQueue) SetDebug(on bool) { q.debug = on }

// RequestFlush arms a flush up to (and including) the block with
// sequence untilSeq, trimmed to timestamp untilTS. A newly raised
// flush is a full player flush: whatever is currently buffered can
// only predate the flush target, so occupancy and the read point are
// cleared immediately rather than waiting for the target block.
func (q *PCMQueue) RequestFlush(untilSeq uint32, untilTS uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushRequested = true
	q.flushUntilSeq = untilSeq
	q.flushUntilTS = untilTS
	q.fill = 0
	q.readPointRTPTime = 0
	q.lastFlushedSeq = 0
	q.lastFlushedTS = 0
}

// Append offers one decoded block to the queue, applying any armed
// flush first. It reports whether the block's samples were actually
// appended (false when the block was wholesale-discarded).
func (q *PCMQueue) Append(seqNo uint32, timestamp uint32, pcm []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushRequested {
		switch {
		case seqNo < q.flushUntilSeq:
			q.lastFlushedSeq = seqNo
			q.lastFlushedTS = timestamp
			return false

		case seqNo == q.flushUntilSeq:
			q.flushRequested = false
			return q.applyTruncation(timestamp, pcm)

		default: // seqNo > flushUntilSeq: the target block was never seen
			if q.debug {
				log.Printf("ap2: flush overshot target sequence %d at block %d", q.flushUntilSeq, seqNo)
			}
			q.flushRequested = false
		}
	}

	return q.appendRaw(pcm)
}

// applyTruncation handles the block that satisfies an armed flush.
// RequestFlush already cleared anything queued ahead of it, so only
// this block's own leading edge, up to flushUntilTS, needs trimming
// before the remainder is queued.
func (q *PCMQueue) applyTruncation(timestamp uint32, pcm []byte) bool {
	diffFrames := int32(q.flushUntilTS - timestamp)
	blockFrames := int32(len(pcm) / bytesPerFrame)

	switch {
	case diffFrames < 0:
		if q.debug {
			log.Printf("ap2: flushUntilTS %d precedes block timestamp %d", q.flushUntilTS, timestamp)
		}
		q.readPointRTPTime = timestamp
		return q.appendRaw(pcm)
	case diffFrames > blockFrames:
		if q.debug {
			log.Printf("ap2: flushUntilTS %d is beyond the flush-target block (has %d frames)", q.flushUntilTS, blockFrames)
		}
		q.readPointRTPTime = q.flushUntilTS
		return false
	default:
		q.readPointRTPTime = q.flushUntilTS
		return q.appendRaw(pcm[diffFrames*bytesPerFrame:])
	}
}

func (q *PCMQueue) appendRaw(pcm []byte) bool {
	room := len(q.buf) - q.fill
	if room <= 0 {
		return false
	}
	n := len(pcm)
	if n > room {
		n = room
	}
	copy(q.buf[q.fill:q.fill+n], pcm[:n])
	q.fill += n
	return true
}

// Read copies up to len(out) bytes from the front of the buffer,
// advancing the read point by the number of whole frames consumed.
func (q *PCMQueue) Read(out []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(out)
	if n > q.fill {
		n = q.fill
	}
	n -= n % bytesPerFrame
	copy(out[:n], q.buf[:n])
	copy(q.buf, q.buf[n:q.fill])
	q.fill -= n
	q.readPointRTPTime += uint32(n / bytesPerFrame)
	return n
}

// Occupancy returns the number of buffered bytes.
func (q *PCMQueue) Occupancy() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fill
}

// ReadPointTimestamp returns the RTP frame number the front of the
// buffer currently corresponds to, used to schedule playback of the
// next chunk against the shared clock.
func (q *PCMQueue) ReadPointTimestamp() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readPointRTPTime
}
