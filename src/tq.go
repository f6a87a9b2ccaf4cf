package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Transmit queue - hold frames for transmission until the
 *		transmit goroutine gets around to them.
 *
 * Description:	Producers (the KISS front ends, by way of the router) call
 *		Enqueue and go merrily on their way, unconcerned about when
 *		the frame might actually get transmitted.
 *
 *		The transmit scheduler is the only consumer.  It removes
 *		a batch at a time with ExtractBatch.
 *
 *---------------------------------------------------------------*/

import "sync"

// MaxPacketsUnbounded asks ExtractBatch for everything in the queue.
const MaxPacketsUnbounded = -1

// FrameQueue is a FIFO of frames waiting to be transmitted.
// All methods are safe for concurrent use.  The mutex is held only for the
// duration of one call, never across I/O.
type FrameQueue struct {
	mu     sync.Mutex
	frames []Frame

	ready chan struct{} // One slot.  Nudges the consumer when something arrives.
}

func NewFrameQueue() *FrameQueue {
	return &FrameQueue{ //nolint:exhaustruct
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends a copy of frame to the tail.  It never blocks.
func (q *FrameQueue) Enqueue(frame Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, frame.Clone())
	q.mu.Unlock()

	q.wake()
}

// ExtractBatch removes and returns frames from the head of the queue.
//
// With limit == MaxPacketsUnbounded the whole queue is taken.  Otherwise at most
// limit frames are taken and the rest stay in place, in order.  An empty queue
// gives an empty batch.  Zero or other negative values take nothing.
func (q *FrameQueue) ExtractBatch(limit int) []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	switch {
	case limit == MaxPacketsUnbounded:
		n = len(q.frames)
	case limit <= 0:
		return nil
	default:
		n = min(limit, len(q.frames))
	}

	if n == 0 {
		return nil
	}

	var batch = make([]Frame, n)
	copy(batch, q.frames[:n])

	// Don't keep references to extracted frames in the backing array.
	clear(q.frames[:n])
	q.frames = q.frames[n:]
	if len(q.frames) == 0 {
		q.frames = nil
	}

	return batch
}

// Requeue puts a batch that could not be sent back at the head of the queue,
// ahead of anything that arrived in the meantime, keeping its original order.
func (q *FrameQueue) Requeue(batch []Frame) {
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	var frames = make([]Frame, 0, len(batch)+len(q.frames))
	frames = append(frames, batch...)
	frames = append(frames, q.frames...)
	q.frames = frames
	q.mu.Unlock()

	q.wake()
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.frames)
}

// Ready receives a value after Enqueue or Requeue.  Several appends may
// collapse into one notification so the consumer must drain with ExtractBatch.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *FrameQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
