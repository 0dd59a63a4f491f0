// Package metrics exposes estimator progress as Prometheus metrics.
package metrics

import (
	"github.com/n0madic/go-streaming-pca/pca"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/floats"
)

// Collector holds the estimator metrics on its own registry, labelled by
// estimator group.
type Collector struct {
	registry *prometheus.Registry

	observations  *prometheus.GaugeVec
	reevaluations *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	leading       *prometheus.GaugeVec
	explained     *prometheus.GaugeVec
}

// New creates a Collector and registers its metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		observations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pca_observations",
				Help: "Observations absorbed at the last reevaluation.",
			},
			[]string{"group"},
		),
		reevaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pca_reevaluations_total",
				Help: "Total number of completed reevaluations.",
			},
			[]string{"group"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pca_reevaluation_duration_seconds",
				Help:    "Time spent reevaluating the leading eigenpairs.",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"group"},
		),
		leading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pca_leading_eigenvalue",
				Help: "Largest normalized eigenvalue after the last reevaluation.",
			},
			[]string{"group"},
		),
		explained: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pca_explained_variance",
				Help: "Sum of the tracked normalized eigenvalues after the last reevaluation.",
			},
			[]string{"group"},
		),
	}

	c.registry.MustRegister(c.observations, c.reevaluations, c.duration, c.leading, c.explained)
	return c
}

// Hook returns a reevaluation hook recording into the metrics of group.
// Pass it to pca.WithReevaluateHook.
func (c *Collector) Hook(group string) func(pca.Reevaluation) {
	return func(r pca.Reevaluation) {
		c.observations.WithLabelValues(group).Set(float64(r.Observations))
		c.reevaluations.WithLabelValues(group).Inc()
		c.duration.WithLabelValues(group).Observe(r.Duration.Seconds())
		if len(r.Eigenvalues) > 0 {
			c.leading.WithLabelValues(group).Set(r.Eigenvalues[0])
		}
		c.explained.WithLabelValues(group).Set(floats.Sum(r.Eigenvalues))
	}
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
