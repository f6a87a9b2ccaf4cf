package tnc

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
)

func quietLogger(t *testing.T) *log.Logger {
	t.Helper()

	return log.NewWithOptions(io.Discard, log.Options{Level: log.DebugLevel}) //nolint:exhaustruct
}

// metricValue sums every series of the named family, "freedvtnc_" prefix included.
func metricValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()

	var families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			}
		}
	}

	return total
}

// sinkFailures is the delivery failure count for one sink or front end.
func sinkFailures(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()

	var families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != "freedvtnc_sink_failures_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "sink" && label.GetValue() == name {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}

	return 0
}
