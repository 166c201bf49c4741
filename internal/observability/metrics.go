// Package observability exposes simulator activity as Prometheus metrics.
package observability

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/san-kum/kitesim/internal/dynamo"
)

// Collector bundles the metrics of one process. All methods are safe on a
// nil receiver so callers can leave metrics out.
type Collector struct {
	gatherer prometheus.Gatherer

	Evaluations      prometheus.Counter
	Failures         *prometheus.CounterVec
	Steps            *prometheus.CounterVec
	StepDuration     prometheus.Histogram
	Overloads        prometheus.Counter
	SteadyIterations prometheus.Gauge
	SteadyNorm       prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	evals, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitesim_model_evaluations_total",
		Help: "Number of residual or derivative evaluations of the kite model.",
	}))
	if err != nil {
		return nil, err
	}
	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitesim_evaluation_failures_total",
		Help: "Failed model evaluations, labeled by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}
	steps, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitesim_steps_total",
		Help: "Integrator steps, labeled by outcome (accepted or rejected).",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kitesim_step_duration_seconds",
		Help:    "Wall time of accepted integrator steps.",
		Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
	}))
	if err != nil {
		return nil, err
	}
	overloads, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitesim_overload_events_total",
		Help: "Accepted steps with a spring tension above the maximum force.",
	}))
	if err != nil {
		return nil, err
	}
	iters, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitesim_steady_state_iterations",
		Help: "Iterations used by the last steady-state search.",
	}))
	if err != nil {
		return nil, err
	}
	norm, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitesim_steady_state_residual",
		Help: "Largest remaining acceleration of the last steady-state search.",
	}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		Evaluations:      evals,
		Failures:         failures,
		Steps:            steps,
		StepDuration:     duration,
		Overloads:        overloads,
		SteadyIterations: iters,
		SteadyNorm:       norm,
	}, nil
}

// Reason maps an evaluation error to a short label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, dynamo.ErrDegenerateGeometry):
		return "degenerate_geometry"
	case errors.Is(err, dynamo.ErrDegenerateWind):
		return "degenerate_wind"
	case errors.Is(err, dynamo.ErrNonFiniteResidual):
		return "non_finite"
	case errors.Is(err, dynamo.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, dynamo.ErrNoConvergence):
		return "no_convergence"
	case errors.Is(err, dynamo.ErrDimensionMismatch):
		return "dimension"
	}
	return "other"
}

func (c *Collector) EvalCounter() prometheus.Counter {
	if c == nil {
		return nil
	}
	return c.Evaluations
}

func (c *Collector) StepAccepted(d time.Duration) {
	if c == nil {
		return
	}
	c.Steps.WithLabelValues("accepted").Inc()
	c.StepDuration.Observe(d.Seconds())
}

func (c *Collector) StepRejected(err error) {
	if c == nil {
		return
	}
	c.Steps.WithLabelValues("rejected").Inc()
	c.Failures.WithLabelValues(Reason(err)).Inc()
}

func (c *Collector) Overload() {
	if c == nil {
		return
	}
	c.Overloads.Inc()
}

func (c *Collector) SteadyState(iterations int, norm float64) {
	if c == nil {
		return
	}
	c.SteadyIterations.Set(float64(iterations))
	c.SteadyNorm.Set(norm)
}

func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// WriteSummary prints one line per kitesim series, sorted by name.
func (c *Collector) WriteSummary(w io.Writer) error {
	if c == nil {
		return nil
	}
	families, err := c.gatherer.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if _, err := fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels(m.GetLabel()), value(mf.GetType(), m)); err != nil {
				return err
			}
		}
	}
	return nil
}

func labels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	s := "{"
	for i, p := range pairs {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%q", p.GetName(), p.GetValue())
	}
	return s + "}"
}

func value(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
