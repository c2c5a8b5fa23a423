// Package metrics exposes orchestrator events as prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kebairia/backupd/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backupd"

// Collector turns orchestrator events into prometheus series.
type Collector struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	notifyFails   prometheus.Counter
	retries       *prometheus.CounterVec
	ticksDropped  prometheus.Counter
	lastSuccess   prometheus.Gauge
	runDuration   prometheus.Histogram
}

var _ orchestrator.Sink = (*Collector)(nil)

// NewCollector registers the backupd collectors on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup attempts by attempt number and outcome.",
		}, []string{"attempt", "outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Failed dump or upload stages.",
		}, []string{"stage"}),
		notifyFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Operator reports that could not be delivered.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries by result (scheduled, dropped).",
		}, []string{"result"}),
		ticksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_dropped_total",
			Help:      "Scheduler ticks dropped because the worker was busy.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of backup attempts.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
	c.registry.MustRegister(
		c.runs, c.stageFailures, c.notifyFails, c.retries,
		c.ticksDropped, c.lastSuccess, c.runDuration,
	)
	return c
}

// Emit implements orchestrator.Sink.
func (c *Collector) Emit(e orchestrator.Event) {
	attempt := strconv.Itoa(e.Attempt)
	switch e.Kind {
	case orchestrator.EventRunSucceeded:
		c.runs.WithLabelValues(attempt, string(orchestrator.OutcomeSucceeded)).Inc()
		c.lastSuccess.Set(float64(e.Time.Unix()))
		c.runDuration.Observe(e.Duration.Seconds())
	case orchestrator.EventRunFailed:
		c.runs.WithLabelValues(attempt, string(orchestrator.OutcomeFailed)).Inc()
		c.runDuration.Observe(e.Duration.Seconds())
	case orchestrator.EventDumpFailed:
		c.stageFailures.WithLabelValues("dump").Inc()
	case orchestrator.EventUploadFailed:
		c.stageFailures.WithLabelValues("upload").Inc()
	case orchestrator.EventNotifyFailed:
		c.notifyFails.Inc()
	case orchestrator.EventRetryScheduled:
		c.retries.WithLabelValues("scheduled").Inc()
	case orchestrator.EventRetryDropped:
		c.retries.WithLabelValues("dropped").Inc()
	case orchestrator.EventTickDropped:
		c.ticksDropped.Inc()
	}
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve listens on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
