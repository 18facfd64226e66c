package hub

import (
	"errors"
	"sync"
)

var errQueueClosed = errors.New("write queue closed")

// writeQueue is a bounded FIFO of outbound frames for one endpoint. push
// blocks while the queue is over its byte budget, which pushes back on the
// sender's read pump.
type writeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	head   int
	bytes  int // queued plus in-flight
	closed bool
	err    error
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// preload appends frames without waiting for budget. It is only used before
// the writer starts.
func (q *writeQueue) preload(frames [][]byte) {
	q.mu.Lock()
	for _, f := range frames {
		q.frames = append(q.frames, f)
		q.bytes += len(f)
	}
	q.mu.Unlock()
}

func (q *writeQueue) push(frame []byte, maxBytes int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if maxBytes > 0 && len(frame) > maxBytes {
		return errors.New("frame exceeds write queue limit")
	}
	for !q.closed && maxBytes > 0 && q.bytes+len(frame) > maxBytes {
		q.cond.Wait()
	}
	if q.closed {
		return q.err
	}
	q.frames = append(q.frames, frame)
	q.bytes += len(frame)
	q.cond.Broadcast()
	return nil
}

// pop waits for the next frame. The caller must call done(len(frame)) once
// the write finishes.
func (q *writeQueue) pop() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.head >= len(q.frames) {
		q.cond.Wait()
	}
	if q.closed {
		return nil, q.err
	}
	f := q.frames[q.head]
	q.frames[q.head] = nil
	q.head++
	if q.head > 1024 && q.head*2 > len(q.frames) {
		q.frames = append([][]byte(nil), q.frames[q.head:]...)
		q.head = 0
	}
	return f, nil
}

func (q *writeQueue) done(n int) {
	q.mu.Lock()
	q.bytes -= n
	q.cond.Broadcast()
	q.mu.Unlock()
}

// close discards queued frames and wakes every waiter with err.
func (q *writeQueue) close(err error) {
	if err == nil {
		err = errQueueClosed
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.err = err
		for i := q.head; i < len(q.frames); i++ {
			q.bytes -= len(q.frames[i])
		}
		q.frames = nil
		q.head = 0
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

func (q *writeQueue) queuedBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
