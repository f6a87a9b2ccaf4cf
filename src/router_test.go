package tnc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrontEnd struct {
	recordingSink
	name    string
	onFrame func(Frame)
}

func (f *fakeFrontEnd) Name() string                  { return f.name }
func (f *fakeFrontEnd) OnFrameReceived(cb func(Frame)) { f.onFrame = cb }

func TestFrameRouter_InboundQueued(t *testing.T) {
	var q = NewFrameQueue()
	var metrics = NewMetrics()
	var r = NewFrameRouter(q, true, quietLogger(t), metrics)

	var fe = &fakeFrontEnd{name: "pty"} //nolint:exhaustruct
	r.Attach(fe)
	require.NotNil(t, fe.onFrame)

	fe.onFrame(Frame("one"))
	fe.onFrame(Frame("two"))

	assert.Equal(t, frames("one", "two"), q.ExtractBatch(MaxPacketsUnbounded))
	assert.InDelta(t, 2, metricValue(t, metrics, "freedvtnc_frames_queued_total"), 0)
}

func TestFrameRouter_TransmitDisabled(t *testing.T) {
	var q = NewFrameQueue()
	var metrics = NewMetrics()
	var r = NewFrameRouter(q, false, quietLogger(t), metrics)

	r.HandleInbound(Frame("one"))

	assert.Equal(t, 0, q.Len())
	assert.InDelta(t, 1, metricValue(t, metrics, "freedvtnc_frames_discarded_total"), 0)
}

func TestFrameRouter_RejectsEmptyAndOversize(t *testing.T) {
	var q = NewFrameQueue()
	var r = NewFrameRouter(q, true, quietLogger(t), nil)

	r.HandleInbound(Frame{})
	r.HandleInbound(make(Frame, MaxFrameSize+1))
	r.HandleInbound(make(Frame, MaxFrameSize))

	assert.Equal(t, 1, q.Len())
}

func TestFrameRouter_FanOut(t *testing.T) {
	var metrics = NewMetrics()
	var r = NewFrameRouter(NewFrameQueue(), true, quietLogger(t), metrics)

	var a = &fakeFrontEnd{name: "a"} //nolint:exhaustruct
	var b = &fakeFrontEnd{name: "b"} //nolint:exhaustruct
	b.err = ErrClientNotReading
	var c = &fakeFrontEnd{name: "c"} //nolint:exhaustruct
	r.Attach(a)
	r.Attach(b)
	r.Attach(c)

	assert.NoError(t, r.SendFrame(Frame("heard")))

	assert.Equal(t, frames("heard"), a.got())
	assert.Equal(t, frames("heard"), b.got())
	assert.Equal(t, frames("heard"), c.got())
	assert.InDelta(t, 1, metricValue(t, metrics, "freedvtnc_sink_failures_total"), 0)
	assert.InDelta(t, 1, sinkFailures(t, metrics, "b"), 0)
}

// A front end failure behind the receive loop counts once, under its own name.
func TestFrameRouter_FailureCountedOnce(t *testing.T) {
	var metrics = NewMetrics()
	var r = NewFrameRouter(NewFrameQueue(), true, quietLogger(t), metrics)

	var bad = &fakeFrontEnd{name: "pty"} //nolint:exhaustruct
	bad.err = ErrClientNotReading
	r.Attach(bad)

	var radio = &scriptedRadio{script: []scriptStep{{frame: Frame("one")}}} //nolint:exhaustruct
	var rx = NewRxLoop(radio, quietLogger(t), metrics)
	rx.IdleWait = time.Millisecond
	rx.AddSink("clients", r)

	runRxLoop(t, rx, func() bool { return len(bad.got()) == 1 })

	assert.InDelta(t, 1, metricValue(t, metrics, "freedvtnc_sink_failures_total"), 0)
	assert.InDelta(t, 1, sinkFailures(t, metrics, "pty"), 0)
	assert.InDelta(t, 0, sinkFailures(t, metrics, "clients"), 0)
}

func TestFrameRouter_Detach(t *testing.T) {
	var q = NewFrameQueue()
	var r = NewFrameRouter(q, true, quietLogger(t), nil)

	var a = &fakeFrontEnd{name: "a"} //nolint:exhaustruct
	var b = &fakeFrontEnd{name: "b"} //nolint:exhaustruct
	r.Attach(a)
	r.Attach(b)

	r.Detach(a)
	assert.Nil(t, a.onFrame)

	require.NoError(t, r.SendFrame(Frame("heard")))
	assert.Empty(t, a.got())
	assert.Equal(t, frames("heard"), b.got())
}

func TestFrameRouter_NoFrontEnds(t *testing.T) {
	var r = NewFrameRouter(NewFrameQueue(), true, quietLogger(t), nil)

	assert.NoError(t, r.SendFrame(Frame("heard")))
}
