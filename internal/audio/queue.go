// Package audio provides the PCM plumbing between capture and
// transcription: the blocking chunk queue, sample conversion, level
// metering, and WAV file handling.
package audio

import "sync"

// Chunk is a fixed-duration block of normalized mono float samples in
// [-1, 1] at 16 kHz. Ownership transfers to the queue on Push.
type Chunk []float32

// Queue is an unbounded FIFO of chunks guarded by a condition variable.
// Push never blocks; Pop parks the caller until a chunk arrives or the
// queue is closed. There is deliberately no backpressure: recording never
// drops audio, a lagging consumer just accumulates backlog.
type Queue struct {
	mu     sync.Mutex
	nempty *sync.Cond
	items  []Chunk
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.nempty = sync.NewCond(&q.mu)
	return q
}

// Push appends a chunk and wakes one waiting consumer. Pushing to a
// closed queue is a no-op.
func (q *Queue) Push(c Chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, c)
	q.nempty.Signal()
}

// Pop blocks until a chunk is available and returns it in arrival order.
// The second return is false once the queue is closed and drained.
func (q *Queue) Pop() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.nempty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return c, true
}

// Len reports the current backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close unblocks all waiting consumers. Chunks already queued are still
// delivered before Pop starts reporting closure.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nempty.Broadcast()
}
