package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/livestream-ai-worker/internal/api/dto"
	"github.com/cuongbtq/livestream-ai-worker/internal/runstore"
)

// ListRuns handles GET /api/v1/runs
// Lists worker runs, newest first, with optional filtering and pagination
func (h *RunHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Run history is disabled",
		})
		return
	}

	// 1. Parse query parameters
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	// 2. Validate parameters
	if req.PageSize <= 0 {
		req.PageSize = runstore.DefaultPageSize
	}

	if req.PageSize > runstore.MaxPageSize {
		req.PageSize = runstore.MaxPageSize
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// 4. Build filter and query runs
	filter := runstore.RunFilter{
		JobID:    req.JobID,
		State:    req.State,
		Outcome:  req.Outcome,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs",
		})
		return
	}

	// 5. Prepare response with next cursor if more results exist
	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	runResponse := make([]dto.RunDTO, len(runs))
	for i := range runs {
		runResponse[i] = toRunDTO(&runs[i])
	}

	var nextCursor string
	if hasMore {
		lastRun := runs[len(runs)-1]
		nextCursor = EncodeRunCursor(&runstore.RunCursor{
			StartedAt: lastRun.StartedAt,
			RunID:     lastRun.RunID,
		})
	}

	c.JSON(http.StatusOK, dto.ListRunsResponse{
		Runs:       runResponse,
		NextCursor: nextCursor,
	})
}

// GetRun handles GET /api/v1/runs/:run_id
func (h *RunHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Run history is disabled",
		})
		return
	}

	runID := c.Param("run_id")

	run, err := h.runs.GetRun(c.Request.Context(), runID)
	if errors.Is(err, runstore.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Run not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", slog.String("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(run))
}

func toRunDTO(run *runstore.Run) dto.RunDTO {
	out := dto.RunDTO{
		RunID:          run.RunID,
		JobID:          run.JobID,
		SourceType:     run.SourceType,
		SourceLocation: run.SourceLocation,
		State:          run.State,
		Outcome:        run.Outcome,
		ExitCode:       run.ExitCode,
		Forced:         run.Forced,
		Error:          run.Error,
		StartedAt:      run.StartedTime().Format(time.RFC3339),
	}

	if ended := run.EndedTime(); !ended.IsZero() {
		out.EndedAt = ended.Format(time.RFC3339)
		out.DurationSeconds = ended.Sub(run.StartedTime()).Seconds()
	}

	return out
}
