package tnc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func frames(ss ...string) []Frame {
	var out = make([]Frame, len(ss))
	for i, s := range ss {
		out[i] = Frame(s)
	}
	return out
}

func TestFrameQueue_Empty(t *testing.T) {
	var q = NewFrameQueue()

	assert.Empty(t, q.ExtractBatch(1))
	assert.Empty(t, q.ExtractBatch(MaxPacketsUnbounded))
	assert.Equal(t, 0, q.Len())
}

func TestFrameQueue_BatchLimit(t *testing.T) {
	var q = NewFrameQueue()
	for _, f := range frames("a", "b", "c") {
		q.Enqueue(f)
	}

	assert.Equal(t, frames("a", "b"), q.ExtractBatch(2))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, frames("c"), q.ExtractBatch(2))
	assert.Empty(t, q.ExtractBatch(2))
}

func TestFrameQueue_Unbounded(t *testing.T) {
	var q = NewFrameQueue()
	for _, f := range frames("a", "b", "c") {
		q.Enqueue(f)
	}

	assert.Equal(t, frames("a", "b", "c"), q.ExtractBatch(MaxPacketsUnbounded))
	assert.Equal(t, 0, q.Len())
}

func TestFrameQueue_ZeroTakesNothing(t *testing.T) {
	var q = NewFrameQueue()
	q.Enqueue(Frame("a"))

	assert.Empty(t, q.ExtractBatch(0))
	assert.Equal(t, 1, q.Len())
}

func TestFrameQueue_EnqueueCopies(t *testing.T) {
	var q = NewFrameQueue()
	var f = Frame("abc")
	q.Enqueue(f)
	f[0] = 'X'

	assert.Equal(t, frames("abc"), q.ExtractBatch(1))
}

func TestFrameQueue_RequeueGoesFirst(t *testing.T) {
	var q = NewFrameQueue()
	q.Enqueue(Frame("a"))
	q.Enqueue(Frame("b"))

	var batch = q.ExtractBatch(2)
	q.Enqueue(Frame("c"))
	q.Requeue(batch)

	assert.Equal(t, frames("a", "b", "c"), q.ExtractBatch(MaxPacketsUnbounded))
}

func TestFrameQueue_ReadySignal(t *testing.T) {
	var q = NewFrameQueue()

	select {
	case <-q.Ready():
		t.Fatal("ready before anything was queued")
	default:
	}

	q.Enqueue(Frame("a"))
	q.Enqueue(Frame("b"))

	select {
	case <-q.Ready():
	default:
		t.Fatal("no ready signal after enqueue")
	}
}

// Frames leave in the order they arrived, whatever the batch sizes.
func TestFrameQueue_FIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var in = rapid.SliceOf(rapid.SliceOfN(rapid.Byte(), 1, 16)).Draw(t, "frames")
		var q = NewFrameQueue()
		for _, f := range in {
			q.Enqueue(Frame(f))
		}

		var out []Frame
		for q.Len() > 0 {
			var limit = rapid.IntRange(1, 5).Draw(t, "limit")
			var batch = q.ExtractBatch(limit)
			require.LessOrEqual(t, len(batch), limit)
			require.NotEmpty(t, batch)
			out = append(out, batch...)
		}

		require.Len(t, out, len(in))
		for i := range in {
			assert.Equal(t, Frame(in[i]), out[i])
		}
	})
}

func TestFrameQueue_ConcurrentProducers(t *testing.T) {
	var q = NewFrameQueue()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				q.Enqueue(Frame("x"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.ExtractBatch(MaxPacketsUnbounded), 800)
}
