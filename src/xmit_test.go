package tnc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// eventLog is shared by the fake rig and radio so their relative order can be checked.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, a ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, a...))
	l.mu.Unlock()
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.events...)
}

type fakeRig struct {
	log *eventLog

	mu          sync.Mutex
	failAsserts int // Number of SetTransmit(true) calls to fail.
	failRelease bool
	keyed       bool
}

func (r *fakeRig) SetTransmit(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if on && r.failAsserts > 0 {
		r.failAsserts--
		r.log.add("ptt fail")
		return ErrRigUnreachable
	}
	if !on && r.failRelease {
		r.log.add("ptt release fail")
		return ErrRigUnreachable
	}

	r.keyed = on
	if on {
		r.log.add("ptt on")
	} else {
		r.log.add("ptt off")
	}

	return nil
}

func (r *fakeRig) Close() error { return nil }

type fakeRadio struct {
	log *eventLog

	keyedCheck func() bool // Reports PTT state at the moment of transmit.

	mu      sync.Mutex
	bursts  []Burst
	failAt  int           // Frame index to fail at, -1 for none.
	block   chan struct{} // Transmit waits on this when not nil.
	started chan struct{} // Closed when Transmit is entered, when not nil.
}

func (r *fakeRadio) Demodulate(ctx context.Context) (Frame, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func (r *fakeRadio) Transmit(ctx context.Context, burst Burst) error {
	if r.started != nil {
		close(r.started)
		r.started = nil
	}
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	r.bursts = append(r.bursts, burst)
	var failAt = r.failAt
	r.mu.Unlock()

	if r.keyedCheck != nil && !r.keyedCheck() {
		r.log.add("tx while unkeyed")
	}

	if failAt >= 0 && failAt < len(burst.Frames) {
		r.log.add("tx %d fail at %d", len(burst.Frames), failAt)
		return &BurstError{Sent: failAt, Err: ErrTransmitFailure}
	}

	// A cancelled context here would mean the burst was cut short.
	if ctx.Err() != nil {
		r.log.add("tx cancelled")
	}

	r.log.add("tx %d", len(burst.Frames))
	return nil
}

func (r *fakeRadio) getBursts() []Burst {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Burst(nil), r.bursts...)
}

type schedulerFixture struct {
	log     *eventLog
	rig     *fakeRig
	radio   *fakeRadio
	queue   *FrameQueue
	metrics *Metrics
	sched   *TxScheduler

	mu    sync.Mutex
	waits int
}

func newSchedulerFixture(t *testing.T, cfg SchedulerConfig) *schedulerFixture {
	t.Helper()

	var f = &schedulerFixture{ //nolint:exhaustruct
		log:     &eventLog{}, //nolint:exhaustruct
		queue:   NewFrameQueue(),
		metrics: NewMetrics(),
	}
	f.rig = &fakeRig{log: f.log} //nolint:exhaustruct
	f.radio = &fakeRadio{log: f.log, failAt: -1} //nolint:exhaustruct
	f.radio.keyedCheck = func() bool {
		f.rig.mu.Lock()
		defer f.rig.mu.Unlock()
		return f.rig.keyed
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}

	var sched, err = NewTxScheduler(cfg, f.queue, f.rig, f.radio, quietLogger(t), f.metrics)
	require.NoError(t, err)

	var inner = sched.randDuration
	sched.randDuration = func(lo, hi time.Duration) time.Duration {
		f.mu.Lock()
		f.waits++
		f.mu.Unlock()
		f.log.add("cooldown")
		return inner(lo, hi)
	}
	f.sched = sched

	return f
}

// run starts the scheduler and returns a function that stops it and waits.
func (f *schedulerFixture) run(t *testing.T) func() {
	t.Helper()

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func (f *schedulerFixture) cooldowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.waits
}

func TestTxScheduler_SingleFrame(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{PreambleFrames: 9, MaxPackets: 1}) //nolint:exhaustruct
	f.queue.Enqueue(Frame("hello"))

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.cooldowns() == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{"ptt on", "tx 1", "ptt off", "cooldown"}, f.log.get())

	var bursts = f.radio.getBursts()
	require.Len(t, bursts, 1)
	assert.Equal(t, 9, bursts[0].Preamble)
	assert.Equal(t, frames("hello"), bursts[0].Frames)

	assert.InDelta(t, 1, metricValue(t, f.metrics, "freedvtnc_frames_transmitted_total"), 0)
	assert.InDelta(t, 1, metricValue(t, f.metrics, "freedvtnc_bursts_total"), 0)
	assert.InDelta(t, 0, metricValue(t, f.metrics, "freedvtnc_ptt_active"), 0)
}

func TestTxScheduler_OneFramePerBurst(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 1}) //nolint:exhaustruct
	for _, fr := range frames("a", "b", "c") {
		f.queue.Enqueue(fr)
	}

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.cooldowns() == 3 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{
		"ptt on", "tx 1", "ptt off", "cooldown",
		"ptt on", "tx 1", "ptt off", "cooldown",
		"ptt on", "tx 1", "ptt off", "cooldown",
	}, f.log.get())

	var bursts = f.radio.getBursts()
	require.Len(t, bursts, 3)
	assert.Equal(t, frames("a"), bursts[0].Frames)
	assert.Equal(t, frames("b"), bursts[1].Frames)
	assert.Equal(t, frames("c"), bursts[2].Frames)
}

func TestTxScheduler_BatchThenRemainder(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 2}) //nolint:exhaustruct
	for _, fr := range frames("f1", "f2", "f3") {
		f.queue.Enqueue(fr)
	}

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.cooldowns() == 2 }, time.Second, time.Millisecond)
	stop()

	// The remainder only goes out after the first burst's cooldown.
	assert.Equal(t, []string{
		"ptt on", "tx 2", "ptt off", "cooldown",
		"ptt on", "tx 1", "ptt off", "cooldown",
	}, f.log.get())

	var bursts = f.radio.getBursts()
	require.Len(t, bursts, 2)
	assert.Equal(t, frames("f1", "f2"), bursts[0].Frames)
	assert.Equal(t, frames("f3"), bursts[1].Frames)
	assert.Equal(t, 0, f.queue.Len())
	assert.InDelta(t, 2, metricValue(t, f.metrics, "freedvtnc_bursts_total"), 0)
}

func TestTxScheduler_Unbounded(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: MaxPacketsUnbounded}) //nolint:exhaustruct
	for _, fr := range frames("a", "b", "c") {
		f.queue.Enqueue(fr)
	}

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.cooldowns() == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{"ptt on", "tx 3", "ptt off", "cooldown"}, f.log.get())
	assert.Equal(t, frames("a", "b", "c"), f.radio.getBursts()[0].Frames)
}

func TestTxScheduler_EmptyQueueNeverKeys(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 1}) //nolint:exhaustruct

	var stop = f.run(t)
	time.Sleep(50 * time.Millisecond)
	assert.Contains(t, []TxState{TxIdle, TxDraining}, f.sched.State())
	stop()

	assert.Empty(t, f.log.get())
}

func TestTxScheduler_PTTFailureRequeues(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 2}) //nolint:exhaustruct
	f.rig.failAsserts = 1
	f.queue.Enqueue(Frame("a"))
	f.queue.Enqueue(Frame("b"))

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.cooldowns() == 1 }, time.Second, time.Millisecond)
	stop()

	// No cooldown after the failure, and the same frames go out on the retry.
	assert.Equal(t, []string{"ptt fail", "ptt on", "tx 2", "ptt off", "cooldown"}, f.log.get())
	assert.Equal(t, frames("a", "b"), f.radio.getBursts()[0].Frames)
	assert.InDelta(t, 1, metricValue(t, f.metrics, "freedvtnc_ptt_failures_total"), 0)
}

func TestTxScheduler_PTTFailureKeepsOrder(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 1}) //nolint:exhaustruct
	f.rig.failAsserts = 1000000
	f.queue.Enqueue(Frame("a"))

	var stop = f.run(t)
	require.Eventually(t, func() bool {
		for _, e := range f.log.get() {
			if e == "ptt fail" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	f.queue.Enqueue(Frame("b"))
	stop()

	assert.Equal(t, frames("a", "b"), f.queue.ExtractBatch(MaxPacketsUnbounded))
	assert.Empty(t, f.radio.getBursts())
	assert.Equal(t, 0, f.cooldowns())
}

func TestTxScheduler_TransmitFailureReleasesPTT(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 3}) //nolint:exhaustruct
	f.radio.failAt = 1
	for _, fr := range frames("a", "b", "c") {
		f.queue.Enqueue(fr)
	}

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.cooldowns() == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{"ptt on", "tx 3 fail at 1", "ptt off", "cooldown"}, f.log.get())
	assert.Equal(t, 0, f.queue.Len(), "failed frames are dropped, not requeued")
	assert.InDelta(t, 1, metricValue(t, f.metrics, "freedvtnc_frames_transmitted_total"), 0)
	assert.InDelta(t, 2, metricValue(t, f.metrics, "freedvtnc_frames_dropped_total"), 0)
}

func TestTxScheduler_ReleaseFailureStillCoolsDown(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 1}) //nolint:exhaustruct
	f.rig.failRelease = true
	f.queue.Enqueue(Frame("a"))

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.cooldowns() == 1 }, time.Second, time.Millisecond)
	stop()

	assert.Equal(t, []string{"ptt on", "tx 1", "ptt release fail", "cooldown"}, f.log.get())
}

func TestTxScheduler_ShutdownFinishesBurst(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 1, MinWait: time.Hour, MaxWait: time.Hour}) //nolint:exhaustruct
	var release = make(chan struct{})
	var started = make(chan struct{})
	f.radio.block = release
	f.radio.started = started
	f.queue.Enqueue(Frame("a"))

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	<-started
	assert.Equal(t, TxKeyed, f.sched.State())
	cancel()

	select {
	case <-done:
		t.Fatal("scheduler returned with a burst in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop; shutdown should cut the cooldown short")
	}

	assert.Equal(t, []string{"ptt on", "tx 1", "ptt off", "cooldown"}, f.log.get())
	assert.Equal(t, TxIdle, f.sched.State())
}

func TestTxScheduler_CooldownBlocksNextBurst(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 1, MinWait: time.Hour, MaxWait: time.Hour}) //nolint:exhaustruct
	f.queue.Enqueue(Frame("a"))
	f.queue.Enqueue(Frame("b"))

	var stop = f.run(t)
	require.Eventually(t, func() bool { return f.sched.State() == TxCoolingDown }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Len(t, f.radio.getBursts(), 1)
	assert.Equal(t, 1, f.queue.Len())
}

func TestTxScheduler_WakesOnEnqueue(t *testing.T) {
	var f = newSchedulerFixture(t, SchedulerConfig{MaxPackets: 1, PollInterval: time.Hour}) //nolint:exhaustruct

	var stop = f.run(t)
	time.Sleep(10 * time.Millisecond)
	f.queue.Enqueue(Frame("a"))
	require.Eventually(t, func() bool { return f.cooldowns() == 1 }, time.Second, time.Millisecond)
	stop()
}

func TestNewTxScheduler_RejectsBadConfig(t *testing.T) {
	var cases = []SchedulerConfig{
		{PreambleFrames: -1, MaxPackets: 1},                         //nolint:exhaustruct
		{MinWait: 2 * time.Second, MaxWait: time.Second, MaxPackets: 1}, //nolint:exhaustruct
		{MaxPackets: 0},                                             //nolint:exhaustruct
		{MaxPackets: -2},                                            //nolint:exhaustruct
	}

	for _, cfg := range cases {
		var _, err = NewTxScheduler(cfg, NewFrameQueue(), VoxRig{}, &fakeRadio{failAt: -1}, quietLogger(t), nil) //nolint:exhaustruct
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestUniformDuration(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var lo = time.Duration(rapid.Int64Range(0, int64(10*time.Second)).Draw(t, "lo"))
		var hi = lo + time.Duration(rapid.Int64Range(0, int64(10*time.Second)).Draw(t, "span"))

		var d = uniformDuration(lo, hi)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	})
}

func TestUniformDuration_Equal(t *testing.T) {
	assert.Equal(t, 5*time.Second, uniformDuration(5*time.Second, 5*time.Second))
}

func TestTxState_String(t *testing.T) {
	assert.Equal(t, "idle", TxIdle.String())
	assert.Equal(t, "cooling down", TxCoolingDown.String())
}

func TestBurstError(t *testing.T) {
	var err error = &BurstError{Sent: 2, Err: ErrTransmitFailure}

	assert.ErrorIs(t, err, ErrTransmitFailure)

	var be *BurstError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 2, be.Sent)
}
