package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"go.sazak.io/monotick/cmd/monotick/storage"
)

// Collectors holds the Prometheus instruments fed by the sample pipeline.
type Collectors struct {
	Samples     prometheus.Counter
	Backward    prometheus.Counter
	Unavailable prometheus.Counter
	Delta       prometheus.Histogram
	Latency     prometheus.Summary
}

// NewCollectors registers the daemon's instruments on reg. quantiles sets
// the objectives of the call-latency summary.
func NewCollectors(reg *prometheus.Registry, quantiles []float64) *Collectors {
	objectives := make(map[float64]float64, len(quantiles))
	for _, q := range quantiles {
		// Allow 1% absolute quantile estimation error
		objectives[q] = 0.01
	}

	c := &Collectors{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monotick_samples_total",
			Help: "Total number of clock samples taken.",
		}),
		Backward: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monotick_backward_steps_total",
			Help: "Samples whose reading was lower than the previous one on the same worker.",
		}),
		Unavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monotick_unavailable_reads_total",
			Help: "Samples for which the clock query failed and returned zero.",
		}),
		Delta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monotick_sample_delta_microseconds",
			Help:    "Distance between successive clock readings on one worker.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}),
		Latency: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       "monotick_call_latency_nanoseconds",
			Help:       "Wall time spent inside a single clock call.",
			Objectives: objectives,
		}),
	}

	reg.MustRegister(c.Samples, c.Backward, c.Unavailable, c.Delta, c.Latency)
	return c
}

// Observe feeds one sample into the instruments.
func (c *Collectors) Observe(sample *storage.Sample) {
	c.Samples.Inc()
	c.Latency.Observe(float64(sample.LatencyNs))

	if sample.Flags&storage.FlagBackward != 0 {
		c.Backward.Inc()
	}
	if sample.Flags&storage.FlagUnavailable != 0 {
		c.Unavailable.Inc()
		return
	}
	if sample.DeltaUs > 0 {
		c.Delta.Observe(float64(sample.DeltaUs))
	}
}
