package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of start attempts by outcome.",
		}, []string{"kind", "result"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops, labelled by whether the kill signal was needed.",
		}, []string{"kind", "escalated"},
	)
	processStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn until the health endpoint answered.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"},
	)
	healthPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emuctl",
			Subsystem: "health",
			Name:      "polls_total",
			Help:      "Health endpoint queries by classification.",
		}, []string{"kind", "status"},
	)
	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emuctl",
			Subsystem: "artifact",
			Name:      "downloads_total",
			Help:      "Artifact downloads by outcome.",
		}, []string{"result"},
	)
	downloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "emuctl",
			Subsystem: "artifact",
			Name:      "download_bytes_total",
			Help:      "Bytes written by successful downloads.",
		},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different process states.",
		}, []string{"kind", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "emuctl",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of each kind (1 = active state, 0 = inactive).",
		}, []string{"kind", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processStops, processStartDuration, healthPolls,
		downloads, downloadBytes, stateTransitions, currentStates,
		residentMemory, cpuPercent, numThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(kind string, ok bool) {
	if regOK.Load() {
		processStarts.WithLabelValues(kind, result(ok)).Inc()
	}
}

func IncStop(kind string, escalated bool) {
	if regOK.Load() {
		e := "false"
		if escalated {
			e = "true"
		}
		processStops.WithLabelValues(kind, e).Inc()
	}
}

func ObserveStartDuration(kind string, seconds float64) {
	if regOK.Load() {
		processStartDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func IncHealthPoll(kind, status string) {
	if regOK.Load() {
		healthPolls.WithLabelValues(kind, status).Inc()
	}
}

func IncDownload(ok bool, bytes int64) {
	if regOK.Load() {
		downloads.WithLabelValues(result(ok)).Inc()
		if ok && bytes > 0 {
			downloadBytes.Add(float64(bytes))
		}
	}
}

func RecordStateTransition(kind, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(kind, from, to).Inc()
	}
}

func SetCurrentState(kind, state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentStates.WithLabelValues(kind, state).Set(value)
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
