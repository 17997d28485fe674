// Package metrics exports fit activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/dualfit/internal/fit"
)

const namespace = "dualfit"

// Collector implements fit.Observer with Prometheus collectors.
type Collector struct {
	fits        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	running     prometheus.Gauge
	iterations  prometheus.Histogram
	evaluations prometheus.Counter
	reuses      prometheus.Counter
	rejected    *prometheus.CounterVec
}

var _ fit.Observer = (*Collector)(nil)

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fits_total",
			Help:      "Finished fits by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_duration_seconds",
			Help:      "Wall time of a fit",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"outcome"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fits_running",
			Help:      "Fits currently in progress",
		}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_iterations",
			Help:      "Levenberg-Marquardt iterations per fit",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_evaluations_total",
			Help:      "Dual evaluations of user models",
		}),
		reuses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jacobian_reuses_total",
			Help:      "Jacobian requests served from the previous residual evaluation",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fit_requests_rejected_total",
			Help:      "Fit requests refused before starting",
		}, []string{"reason"}),
	}

	for _, col := range []prometheus.Collector{
		c.fits, c.duration, c.running, c.iterations, c.evaluations, c.reuses, c.rejected,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FitStarted implements fit.Observer.
func (c *Collector) FitStarted() {
	c.running.Inc()
}

// FitFinished implements fit.Observer.
func (c *Collector) FitFinished(outcome fit.Outcome, d time.Duration, usage fit.Usage) {
	c.running.Dec()
	c.fits.WithLabelValues(string(outcome)).Inc()
	c.duration.WithLabelValues(string(outcome)).Observe(d.Seconds())
	if usage.Iterations > 0 {
		c.iterations.Observe(float64(usage.Iterations))
	}
	c.evaluations.Add(float64(usage.Evaluations))
	c.reuses.Add(float64(usage.JacobianReuses))
}

// Rejected counts a fit request refused for reason, e.g. "rate_limited".
func (c *Collector) Rejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}
