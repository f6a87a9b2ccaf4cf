package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Process audio input for receiving.
 *
 * Description:	The receive loop runs in its own goroutine and asks the
 *		radio for one demodulation pass at a time.  When a frame
 *		comes out it is given, in order of arrival, to every sink:
 *		the front ends (through the router), the console monitor,
 *		the packet log.
 *
 *		One sink failing, or even panicking, must not stop the
 *		others or later frames.
 *
 *		The receive loop never touches PTT.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultErrorBackoff = 100 * time.Millisecond

// Sink accepts received frames.
type Sink interface {
	SendFrame(frame Frame) error
}

type namedSink struct {
	name string
	sink Sink
}

type RxLoop struct {
	radio RadioChannel
	sinks []namedSink

	// IdleWait is applied after a pass that produced nothing.  Zero for a
	// radio that blocks on the audio device anyway.
	IdleWait time.Duration

	// ErrorBackoff is applied after the radio reports an error.
	ErrorBackoff time.Duration

	logger  *log.Logger
	metrics *Metrics
}

func NewRxLoop(radio RadioChannel, logger *log.Logger, metrics *Metrics) *RxLoop {
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &RxLoop{ //nolint:exhaustruct
		radio:        radio,
		ErrorBackoff: DefaultErrorBackoff,
		logger:       logger.WithPrefix("rx"),
		metrics:      metrics,
	}
}

// AddSink registers a destination for received frames.  Call before Run.
func (r *RxLoop) AddSink(name string, sink Sink) {
	r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
}

// Run demodulates until ctx is cancelled.
func (r *RxLoop) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		var frame, ok, err = r.radio.Demodulate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.Error("Receive failed", "err", err)
			r.metrics.demodErrors.Inc()
			sleepCtx(ctx, r.ErrorBackoff)
			continue
		}

		if !ok {
			sleepCtx(ctx, r.IdleWait)
			continue
		}

		r.metrics.framesReceived.Inc()
		r.deliver(frame)
	}

	return nil
}

func (r *RxLoop) deliver(frame Frame) {
	for _, s := range r.sinks {
		// Each sink gets its own copy so one can't disturb another.
		if err := deliverTo(s.sink, frame.Clone()); err != nil {
			r.logger.Warn("Could not deliver received frame", "sink", s.name, "err", err)
			r.metrics.sinkFailures.WithLabelValues(s.name).Inc()
		}
	}
}

// deliverTo turns a sink error or panic into ErrSinkDelivery.
func deliverTo(sink Sink, frame Frame) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSinkDelivery, p)
		}
	}()

	if err := sink.SendFrame(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkDelivery, err)
	}

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	var timer = time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
