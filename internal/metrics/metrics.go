// Package metrics exposes Prometheus collectors for the game core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chess_live"

type Metrics struct {
	registry *prometheus.Registry

	GamesActive      prometheus.Gauge
	GamesStarted     *prometheus.CounterVec
	GamesFinished    *prometheus.CounterVec
	MovesCommitted   prometheus.Counter
	MovesRejected    *prometheus.CounterVec
	QueueSize        *prometheus.GaugeVec
	Pairings         *prometheus.CounterVec
	QueueExpired     prometheus.Counter
	RatingUpdates    prometheus.Counter
	JobDuration      *prometheus.HistogramVec
	JobErrors        *prometheus.CounterVec
	BroadcastDropped prometheus.Counter
	EngineFallbacks  prometheus.Counter
}

// New builds the collectors on a private registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GamesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "games_active",
			Help:      "Number of games in progress",
		}),
		GamesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_started_total",
			Help:      "Games created, by game type",
		}, []string{"type"}),
		GamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Games finished, by end reason",
		}, []string{"reason"}),
		MovesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_committed_total",
			Help:      "Moves applied to a game",
		}),
		MovesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_rejected_total",
			Help:      "Move submissions rejected, by error code",
		}, []string{"code"}),
		QueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Players waiting in the match queue, by time control",
		}, []string{"time_control"}),
		Pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_total",
			Help:      "Ranked games created by the match queue",
		}, []string{"time_control"}),
		QueueExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_expired_total",
			Help:      "Queue entries removed by the expiry sweep",
		}),
		RatingUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_updates_total",
			Help:      "Ranked games whose ratings were applied",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduler job latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"job"}),
		JobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_item_errors_total",
			Help:      "Per-item failures inside scheduler jobs",
		}, []string{"job"}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Events dropped because the broadcast buffer was full",
		}),
		EngineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_fallbacks_total",
			Help:      "Computer moves chosen without the UCI engine",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.GamesActive,
		m.GamesStarted,
		m.GamesFinished,
		m.MovesCommitted,
		m.MovesRejected,
		m.QueueSize,
		m.Pairings,
		m.QueueExpired,
		m.RatingUpdates,
		m.JobDuration,
		m.JobErrors,
		m.BroadcastDropped,
		m.EngineFallbacks,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) GameStarted(gameType string) {
	if m == nil {
		return
	}
	m.GamesStarted.WithLabelValues(gameType).Inc()
	m.GamesActive.Inc()
}

func (m *Metrics) GameFinished(reason string) {
	if m == nil {
		return
	}
	m.GamesFinished.WithLabelValues(reason).Inc()
	m.GamesActive.Dec()
}

func (m *Metrics) MoveCommitted() {
	if m == nil {
		return
	}
	m.MovesCommitted.Inc()
}

func (m *Metrics) MoveRejected(code string) {
	if m == nil {
		return
	}
	m.MovesRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) SetQueueSize(timeControl string, n int) {
	if m == nil {
		return
	}
	m.QueueSize.WithLabelValues(timeControl).Set(float64(n))
}

func (m *Metrics) Paired(timeControl string) {
	if m == nil {
		return
	}
	m.Pairings.WithLabelValues(timeControl).Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QueueExpired.Add(float64(n))
}

func (m *Metrics) RatingApplied() {
	if m == nil {
		return
	}
	m.RatingUpdates.Inc()
}

// ObserveJob records one scheduler run.
func (m *Metrics) ObserveJob(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) JobItemFailed(job string) {
	if m == nil {
		return
	}
	m.JobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) BroadcastDrop() {
	if m == nil {
		return
	}
	m.BroadcastDropped.Inc()
}

func (m *Metrics) EngineFallback() {
	if m == nil {
		return
	}
	m.EngineFallbacks.Inc()
}
