package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/livestream-ai-worker/internal/api/dto"
	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
)

// SubmitPipeline handles POST /api/v1/pipelines
// Validates a pipeline-start request and publishes it to the broker queue
func (h *PipelineHandler) SubmitPipeline(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.Error("Failed to read request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := domain.DecodeJob(body)
	if err != nil {
		h.logger.Warn("Invalid pipeline request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.publisher.PublishJob(c.Request.Context(), job); err != nil {
		if errors.Is(err, domain.ErrInvalidJob) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		h.logger.Error("Failed to publish job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to publish job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitPipelineResponse{
		JobID:  job.ID,
		Status: "queued",
	})
}
