package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botkeeper"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	lifecycleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "operations_total",
			Help:      "Supervisor operations by kind and result.",
		}, []string{"op", "result"},
	)
	workerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "running",
			Help:      "1 while the supervised worker is running.",
		},
	)
	workerExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "unexpected_exits_total",
			Help:      "Worker exits noticed by a status check rather than a stop.",
		},
	)
	installDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "install_duration_seconds",
			Help:      "Duration of dependency installs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"},
	)
	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control_api",
			Name:      "requests_total",
			Help:      "Requests relayed to the worker control API by outcome.",
		}, []string{"op", "outcome"},
	)
	proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control_api",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests relayed to the worker control API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"},
	)
	workerCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the worker process.",
		},
	)
	workerMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the worker process.",
		},
	)
	workerThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "num_threads",
			Help:      "Thread count of the worker process.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{lifecycleOps, workerRunning, workerExits, installDuration, proxyRequests, proxyDuration, workerCPU, workerMemory, workerThreads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// RecordOp counts one supervisor operation; err decides the result label.
func RecordOp(op string, err error) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	lifecycleOps.WithLabelValues(op, result).Inc()
}

func SetRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		workerRunning.Set(v)
	}
}

func IncUnexpectedExit() {
	if regOK.Load() {
		workerExits.Inc()
	}
}

func ObserveInstall(seconds float64, err error) {
	if regOK.Load() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		installDuration.WithLabelValues(result).Observe(seconds)
	}
}

// ObserveProxy records one control API call. outcome is "ok", "unreachable"
// or "not_ready".
func ObserveProxy(op, outcome string, seconds float64) {
	if regOK.Load() {
		proxyRequests.WithLabelValues(op, outcome).Inc()
		proxyDuration.WithLabelValues(op).Observe(seconds)
	}
}

func setResources(s Sample) {
	if regOK.Load() {
		workerCPU.Set(s.CPUPercent)
		workerMemory.Set(float64(s.MemoryRSS))
		workerThreads.Set(float64(s.NumThreads))
	}
}

func resetResources() {
	if regOK.Load() {
		workerCPU.Set(0)
		workerMemory.Set(0)
		workerThreads.Set(0)
	}
}
