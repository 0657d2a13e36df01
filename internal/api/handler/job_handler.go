package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/dto"
	"github.com/cuongbtq/vidgen/internal/api/model"
	"github.com/cuongbtq/vidgen/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListJobs handles GET /api/v1/jobs
// Lists archived jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	if h.history == nil {
		h.archiveDisabled(c)
		return
	}

	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !domain.Status(req.Status).IsTerminal() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be completed or failed",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.history.ListJobs(c.Request.Context(), storage.JobFilter{
		Status:   req.Status,
		Mode:     req.Mode,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// the store returns one extra row when another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = toJobDTO(job)
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CompletedAt: last.CompletedAt,
			JobID:       last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves one archived job
func (h *JobHandler) GetJob(c *gin.Context) {
	if h.history == nil {
		h.archiveDisabled(c)
		return
	}

	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.history.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found in history",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(*job))
}

func (h *JobHandler) archiveDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error": "Job history is not configured",
	})
}

func toJobDTO(job model.ArchivedJob) dto.JobDTO {
	return dto.JobDTO{
		JobID:          job.JobID,
		Status:         job.Status,
		Mode:           job.Mode,
		FilenamePrefix: job.FilenamePrefix,
		Error:          job.ErrorMessage.String,
		HasImage:       job.HasImage,
		HasVideo:       job.HasVideo,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		CompletedAt:    job.CompletedAt.Format(time.RFC3339),
		ArchivedAt:     job.ArchivedAt.Format(time.RFC3339),
	}
}
