package tnc

import (
	"slices"
	"sync"

	"github.com/charmbracelet/log"
)

// FrontEnd is a KISS client facing interface: pty, serial port, TCP server, raw stream.
type FrontEnd interface {
	Sink

	// Name identifies the front end in logs and metrics.
	Name() string

	// OnFrameReceived registers the callback for frames arriving from clients.
	// Output only front ends may ignore it.
	OnFrameReceived(cb func(Frame))
}

// FrameRouter connects the front ends to the transmit queue in one direction
// and received frames to the front ends in the other.
type FrameRouter struct {
	queue     *FrameQueue
	txEnabled bool

	mu        sync.RWMutex
	frontEnds []FrontEnd

	logger  *log.Logger
	metrics *Metrics
}

func NewFrameRouter(queue *FrameQueue, txEnabled bool, logger *log.Logger, metrics *Metrics) *FrameRouter {
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &FrameRouter{ //nolint:exhaustruct
		queue:     queue,
		txEnabled: txEnabled,
		logger:    logger.WithPrefix("router"),
		metrics:   metrics,
	}
}

// HandleInbound queues a frame from a client for transmission, or discards
// it when this is a receive only station.
func (r *FrameRouter) HandleInbound(frame Frame) {
	switch {
	case len(frame) == 0:
		r.logger.Debug("Ignoring empty frame")
	case len(frame) > MaxFrameSize:
		r.logger.Warn("Frame too long, discarded", "bytes", len(frame), "max", MaxFrameSize)
		r.metrics.framesDiscarded.Inc()
	case !r.txEnabled:
		r.logger.Debug("Transmit disabled, frame discarded", "bytes", len(frame))
		r.metrics.framesDiscarded.Inc()
	default:
		r.queue.Enqueue(frame)
		r.metrics.framesQueued.Inc()
		r.logger.Debug("Queued frame for transmit", "bytes", len(frame), "queued", r.queue.Len())
	}
}

// Attach wires a front end in both directions.
func (r *FrameRouter) Attach(fe FrontEnd) {
	fe.OnFrameReceived(r.HandleInbound)

	r.mu.Lock()
	r.frontEnds = append(r.frontEnds, fe)
	r.mu.Unlock()

	r.logger.Debug("Front end attached", "name", fe.Name())
}

// Detach stops delivery to a front end, typically one that has failed.
func (r *FrameRouter) Detach(fe FrontEnd) {
	r.mu.Lock()
	r.frontEnds = slices.DeleteFunc(r.frontEnds, func(x FrontEnd) bool { return x == fe })
	r.mu.Unlock()

	fe.OnFrameReceived(nil)

	r.logger.Debug("Front end detached", "name", fe.Name())
}

// SendFrame gives a received frame to every attached front end.
// A failing front end doesn't stop delivery to the others.  Failures are
// logged and counted here, per front end, and not returned.
func (r *FrameRouter) SendFrame(frame Frame) error {
	r.mu.RLock()
	var frontEnds = append([]FrontEnd(nil), r.frontEnds...)
	r.mu.RUnlock()

	for _, fe := range frontEnds {
		if err := deliverTo(fe, frame.Clone()); err != nil {
			r.logger.Warn("Could not deliver received frame", "front_end", fe.Name(), "err", err)
			r.metrics.sinkFailures.WithLabelValues(fe.Name()).Inc()
		}
	}

	return nil
}
