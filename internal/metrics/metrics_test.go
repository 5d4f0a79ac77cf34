package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobReceived()
	m.JobReceived()
	m.MessageMalformed()
	m.BrokerReconnect()
	m.WorkerStarted()
	m.WorkerForceKilled()
	m.DispatchFailed()
	m.SetActiveWorkers(3)
	m.WorkerExited("completed", 2*time.Second)
	m.WorkerExited("killed", 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.jobsReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesMalformed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.brokerReconnects))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workersStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workerForceKills))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatchFailures))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.concurrentStreams))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workerExits.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workerExits.WithLabelValues("killed")))

	count, err := testutil.GatherAndCount(reg, "gst_pipeline_processing_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.JobReceived()
		m.MessageMalformed()
		m.BrokerReconnect()
		m.SetActiveWorkers(1)
		m.WorkerStarted()
		m.WorkerExited("failed", time.Second)
		m.WorkerForceKilled()
		m.DispatchFailed()
	})
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}
