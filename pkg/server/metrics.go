package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/research"
)

// Metrics owns its registry so several servers (and tests) can coexist in
// one process.
type Metrics struct {
	registry *prometheus.Registry

	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	ActiveRuns      prometheus.Gauge
	GenerationCalls prometheus.Counter
	SearchCalls     prometheus.Counter
	Learnings       prometheus.Counter
	FailedBranches  prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deep_research",
			Name:      "runs_total",
			Help:      "Research runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deep_research",
			Name:      "run_duration_seconds",
			Help:      "Wall time of research runs including the report.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "deep_research",
			Name:      "active_runs",
			Help:      "Research runs currently in progress.",
		}),
		GenerationCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: "deep_research",
			Name:      "generation_calls_total",
			Help:      "Structured generation calls made by research runs.",
		}),
		SearchCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: "deep_research",
			Name:      "search_calls_total",
			Help:      "Search calls made by research runs, retries included.",
		}),
		Learnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: "deep_research",
			Name:      "learnings_total",
			Help:      "Learnings produced by completed runs.",
		}),
		FailedBranches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "deep_research",
			Name:      "failed_branches_total",
			Help:      "Branches dropped after an isolated failure.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// track marks a run active and returns a func recording its outcome.
func (m *Metrics) track() func(resp *research.StartResponse, err error) {
	if m == nil {
		return func(*research.StartResponse, error) {}
	}
	start := time.Now()
	m.ActiveRuns.Inc()
	return func(resp *research.StartResponse, err error) {
		m.ActiveRuns.Dec()
		switch {
		case err != nil:
			m.Runs.WithLabelValues("failed").Inc()
			return
		case resp == nil || resp.Result == nil:
			m.Runs.WithLabelValues("questions").Inc()
			return
		}
		m.Runs.WithLabelValues("completed").Inc()
		m.RunDuration.Observe(time.Since(start).Seconds())
		r := resp.Result
		m.GenerationCalls.Add(float64(r.Stats.GenerationCalls))
		m.SearchCalls.Add(float64(r.Stats.SearchCalls))
		m.Learnings.Add(float64(len(r.Learnings)))
		m.FailedBranches.Add(float64(len(r.FailedQueries)))
	}
}
