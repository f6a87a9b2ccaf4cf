package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Transmit queued up frames.
 *
 * Description:	Producers of frames to be transmitted call Enqueue and go
 *		merrily on their way.  The scheduler below is the only
 *		consumer.  It owns the transmitter:
 *
 *		Idle		Wait for something in the queue, the poll
 *				interval, or shutdown.
 *
 *		Draining	Take a batch.  Nothing there?  Back to Idle
 *				without touching PTT.
 *
 *		Keyed		PTT on, hand the burst to the radio.
 *				If PTT could not be turned on the batch goes
 *				back to the head of the queue.
 *
 *		CoolingDown	PTT off, then stay quiet for a random time
 *				between the configured minimum and maximum
 *				so other stations get a chance.
 *
 *		A burst in progress always runs to completion and PTT is
 *		always released, even when shutdown is requested.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultPollInterval = 100 * time.Millisecond

type SchedulerConfig struct {
	PreambleFrames int           // Filler modem frames ahead of the data, once per burst.
	MinWait        time.Duration // Quiet time after a burst, lower bound.
	MaxWait        time.Duration // Quiet time after a burst, upper bound (inclusive).
	MaxPackets     int           // Frames per burst, or MaxPacketsUnbounded.
	PollInterval   time.Duration // Upper bound on how long Idle waits before looking again.
}

func (c SchedulerConfig) Validate() error {
	if c.PreambleFrames < 0 {
		return fmt.Errorf("preamble length %d is negative", c.PreambleFrames)
	}
	if c.MinWait < 0 || c.MaxWait < c.MinWait {
		return fmt.Errorf("transmit wait range %s..%s is invalid", c.MinWait, c.MaxWait)
	}
	if c.MaxPackets != MaxPacketsUnbounded && c.MaxPackets < 1 {
		return fmt.Errorf("max packets %d must be %d or at least 1", c.MaxPackets, MaxPacketsUnbounded)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval %s must be positive", c.PollInterval)
	}

	return nil
}

type TxState int32

const (
	TxIdle TxState = iota
	TxDraining
	TxKeyed
	TxCoolingDown
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxDraining:
		return "draining"
	case TxKeyed:
		return "keyed"
	case TxCoolingDown:
		return "cooling down"
	default:
		return fmt.Sprintf("TxState(%d)", int32(s))
	}
}

type TxScheduler struct {
	cfg     SchedulerConfig
	queue   *FrameQueue
	rig     RigController
	radio   RadioChannel
	logger  *log.Logger
	metrics *Metrics

	state atomic.Int32

	// Replaceable for tests.
	randDuration func(lo, hi time.Duration) time.Duration
}

func NewTxScheduler(cfg SchedulerConfig, queue *FrameQueue, rig RigController, radio RadioChannel, logger *log.Logger, metrics *Metrics) (*TxScheduler, error) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if metrics == nil {
		metrics = NewMetrics()
	}

	return &TxScheduler{ //nolint:exhaustruct
		cfg:          cfg,
		queue:        queue,
		rig:          rig,
		radio:        radio,
		logger:       logger.WithPrefix("tx"),
		metrics:      metrics,
		randDuration: uniformDuration,
	}, nil
}

func (s *TxScheduler) State() TxState {
	return TxState(s.state.Load())
}

func (s *TxScheduler) setState(state TxState) {
	s.state.Store(int32(state))
}

// Run services the queue until ctx is cancelled, then returns nil.
// An empty queue never ends it.
func (s *TxScheduler) Run(ctx context.Context) error {
	s.logger.Debug("Transmit scheduler started",
		"preamble", s.cfg.PreambleFrames, "min_wait", s.cfg.MinWait, "max_wait", s.cfg.MaxWait, "max_packets", s.cfg.MaxPackets)

	for {
		if ctx.Err() != nil {
			s.setState(TxIdle)
			return nil
		}

		s.setState(TxDraining)

		var batch = s.queue.ExtractBatch(s.cfg.MaxPackets)
		if len(batch) == 0 {
			s.setState(TxIdle)
			s.idle(ctx)
			continue
		}

		if !s.session(ctx, batch) {
			// PTT failed.  No cooldown but don't hammer the rig either.
			s.setState(TxIdle)
			sleepCtx(ctx, s.cfg.PollInterval)
		}
	}
}

// idle waits for the queue to signal, the poll interval to pass, or shutdown.
func (s *TxScheduler) idle(ctx context.Context) {
	var timer = time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-s.queue.Ready():
	case <-timer.C:
	}
}

// session is one keying cycle.  It reports false if PTT could not be
// asserted, in which case the batch is back in the queue.
func (s *TxScheduler) session(ctx context.Context, batch []Frame) bool {
	s.setState(TxKeyed)

	if err := s.rig.SetTransmit(true); err != nil {
		s.logger.Error("Could not key transmitter, frames stay queued", "frames", len(batch), "err", err)
		s.metrics.pttFailures.Inc()
		s.queue.Requeue(batch)
		return false
	}

	s.metrics.pttActive.Set(1)
	s.metrics.bursts.Inc()
	s.logger.Debug("PTT on", "frames", len(batch))

	// The burst finishes even if shutdown is requested meanwhile.
	var err = s.radio.Transmit(context.WithoutCancel(ctx), Burst{
		Preamble: s.cfg.PreambleFrames,
		Frames:   batch,
	})

	var sent = len(batch)
	if err != nil {
		sent = 0
		var be *BurstError
		if errors.As(err, &be) {
			sent = be.Sent
		}
		s.logger.Error("Transmit failed, rest of burst dropped", "sent", sent, "dropped", len(batch)-sent, "err", err)
		s.metrics.framesDropped.Add(float64(len(batch) - sent))
	}
	s.metrics.framesTransmitted.Add(float64(sent))

	s.setState(TxCoolingDown)

	if err := s.rig.SetTransmit(false); err != nil {
		s.logger.Error("Could not release PTT", "err", err)
	}
	s.metrics.pttActive.Set(0)
	s.logger.Debug("PTT off")

	var wait = s.randDuration(s.cfg.MinWait, s.cfg.MaxWait)
	s.logger.Debug("Cooling down", "wait", wait)
	sleepCtx(ctx, wait)

	return true
}

// uniformDuration picks from [lo, hi], both ends included.
func uniformDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}

	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
