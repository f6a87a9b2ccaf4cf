package tnc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "freedvtnc"

// Metrics holds the Prometheus collectors for one TNC.
// Each TNC registers into its own registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	framesQueued      prometheus.Counter     // Accepted from a front end into the transmit queue
	framesDiscarded   prometheus.Counter     // Arrived from a front end while transmit is disabled
	framesTransmitted prometheus.Counter     // Modulated and written to the output device
	framesDropped     prometheus.Counter     // Lost to a transmit failure part way through a burst
	framesReceived    prometheus.Counter     // Demodulated and reassembled
	bursts            prometheus.Counter     // Keying cycles
	pttFailures       prometheus.Counter     // SetTransmit(true) that did not succeed
	pttActive         prometheus.Gauge       // 1 while keyed
	demodErrors       prometheus.Counter     // Errors from the radio receive path
	sinkFailures      *prometheus.CounterVec // Per front end delivery failures
	frontEndFailures  *prometheus.CounterVec // Front ends that stopped with an error
}

func NewMetrics() *Metrics {
	var reg = prometheus.NewRegistry()
	var factory = promauto.With(reg)

	return &Metrics{
		Registry: reg,
		framesQueued: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "frames_queued_total",
			Help:      "Frames accepted for transmission.",
		}),
		framesDiscarded: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "frames_discarded_total",
			Help:      "Frames discarded because transmit is disabled.",
		}),
		framesTransmitted: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "frames_transmitted_total",
			Help:      "Frames sent over the radio.",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Frames lost because a burst failed part way.",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Frames received over the radio.",
		}),
		bursts: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "bursts_total",
			Help:      "Transmit keying cycles.",
		}),
		pttFailures: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "ptt_failures_total",
			Help:      "Attempts to key the transmitter that failed.",
		}),
		pttActive: factory.NewGauge(prometheus.GaugeOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "ptt_active",
			Help:      "1 while the transmitter is keyed.",
		}),
		demodErrors: factory.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "demodulator_errors_total",
			Help:      "Errors reported by the receive path.",
		}),
		sinkFailures: factory.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "sink_failures_total",
			Help:      "Received frames that could not be delivered to a front end.",
		}, []string{"sink"}),
		frontEndFailures: factory.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: metricsNamespace,
			Name:      "front_end_failures_total",
			Help:      "KISS front ends that stopped because of an error.",
		}, []string{"front_end"}),
	}
}

// WatchQueue exports the transmit queue depth.
func (m *Metrics) WatchQueue(q *FrameQueue) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{ //nolint:exhaustruct
		Namespace: metricsNamespace,
		Name:      "queue_depth",
		Help:      "Frames waiting for transmission.",
	}, func() float64 { return float64(q.Len()) }))
}

// ListenMetrics binds the metrics address, so a bad one is found at startup.
func ListenMetrics(addr string) (net.Listener, error) {
	var ln, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics address %s: %w", addr, err)
	}

	return ln, nil
}

// ServeMetrics serves /metrics on ln until ctx is done.  A server failure is
// logged; it doesn't stop the TNC.
func ServeMetrics(ctx context.Context, ln net.Listener, m *Metrics, logger *log.Logger) error {
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)

	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})) //nolint:exhaustruct

	var srv = &http.Server{ //nolint:exhaustruct
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		var shutdownCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "address", ln.Addr())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", "err", err)
	}

	return nil
}
