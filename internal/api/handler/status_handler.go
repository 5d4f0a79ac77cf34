package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/livestream-ai-worker/internal/api/dto"
	"github.com/cuongbtq/livestream-ai-worker/internal/consumer"
	"github.com/cuongbtq/livestream-ai-worker/internal/dispatcher"
)

// Health status values
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusShuttingDown = "shutting_down"
)

// Health handles GET /health
// Healthy while consuming, degraded while the broker is unreachable, 503 once
// shutdown has begun
func (h *StatusHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		Status:  StatusHealthy,
		Service: h.service,
		Version: h.version,
		Consumer: dto.ConsumerHealth{
			State:      h.consumer.State().String(),
			Connection: h.consumer.ConnectionState().String(),
			Reconnects: h.consumer.Reconnects(),
		},
		Dispatcher: dto.DispatcherHealth{
			State:         h.workers.State().String(),
			ActiveWorkers: h.workers.ActiveCount(),
		},
	}

	switch {
	case h.shuttingDown():
		resp.Status = StatusShuttingDown
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	case h.consumer.ConnectionState() != consumer.StateConsuming:
		resp.Status = StatusDegraded
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StatusHandler) shuttingDown() bool {
	switch h.workers.State() {
	case dispatcher.StateShuttingDown, dispatcher.StateStopped:
		return true
	}
	return h.consumer.State() == consumer.SupervisorStopped
}

// ListWorkers handles GET /api/v1/workers
// Lists the running worker processes, oldest first
func (h *StatusHandler) ListWorkers(c *gin.Context) {
	snapshots := h.workers.Active()
	now := time.Now()

	workers := make([]dto.WorkerDTO, len(snapshots))
	for i, s := range snapshots {
		workers[i] = dto.WorkerDTO{
			WorkerID:       s.ID,
			JobID:          s.JobID,
			SourceType:     s.SourceType,
			SourceLocation: s.SourceLocation,
			PID:            s.PID,
			State:          string(s.State),
			StartedAt:      s.StartedAt.UTC().Format(time.RFC3339),
			UptimeSeconds:  now.Sub(s.StartedAt).Seconds(),
		}
	}

	c.JSON(http.StatusOK, dto.ListWorkersResponse{
		Workers: workers,
		Count:   len(workers),
	})
}
