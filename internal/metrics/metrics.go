// Package metrics exposes the service counters and gauges as Prometheus collectors.
// Every method is safe to call on a nil *Metrics so components can run without
// a registry in tests and in the worker process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors registered for one service instance
type Metrics struct {
	jobsReceived      prometheus.Counter
	messagesMalformed prometheus.Counter
	brokerReconnects  prometheus.Counter
	concurrentStreams prometheus.Gauge
	workersStarted    prometheus.Counter
	workerExits       *prometheus.CounterVec
	workerForceKills  prometheus.Counter
	dispatchFailures  prometheus.Counter
	pipelineSeconds   prometheus.Summary
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "jobs_received_total",
			Help: "Pipeline requests decoded from the broker",
		}),
		messagesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "messages_malformed_total",
			Help: "Broker messages discarded because they could not be decoded",
		}),
		brokerReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Broker sessions restarted after a failure",
		}),
		concurrentStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "concurrent_streams",
			Help: "Number of concurrent streams",
		}),
		workersStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "workers_started_total",
			Help: "Worker processes spawned",
		}),
		workerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_exits_total",
			Help: "Worker processes reaped, by outcome",
		}, []string{"outcome"}),
		workerForceKills: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_force_kills_total",
			Help: "Worker processes killed after the grace period",
		}),
		dispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_failures_total",
			Help: "Jobs abandoned because their worker could not be started",
		}),
		pipelineSeconds: factory.NewSummary(prometheus.SummaryOpts{
			Name: "gst_pipeline_processing_seconds",
			Help: "Time spent by the video pipeline",
		}),
	}
}

func (m *Metrics) JobReceived() {
	if m == nil {
		return
	}
	m.jobsReceived.Inc()
}

func (m *Metrics) MessageMalformed() {
	if m == nil {
		return
	}
	m.messagesMalformed.Inc()
}

func (m *Metrics) BrokerReconnect() {
	if m == nil {
		return
	}
	m.brokerReconnects.Inc()
}

// SetActiveWorkers records the current size of the active set
func (m *Metrics) SetActiveWorkers(n int) {
	if m == nil {
		return
	}
	m.concurrentStreams.Set(float64(n))
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersStarted.Inc()
}

// WorkerExited counts a reaped worker and observes how long it ran
func (m *Metrics) WorkerExited(outcome string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.workerExits.WithLabelValues(outcome).Inc()
	if lifetime > 0 {
		m.pipelineSeconds.Observe(lifetime.Seconds())
	}
}

func (m *Metrics) WorkerForceKilled() {
	if m == nil {
		return
	}
	m.workerForceKills.Inc()
}

func (m *Metrics) DispatchFailed() {
	if m == nil {
		return
	}
	m.dispatchFailures.Inc()
}
