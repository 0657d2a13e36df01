package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cuongbtq/vidgen/internal/api/domain"
	"github.com/cuongbtq/vidgen/internal/api/dto"
	"github.com/cuongbtq/vidgen/internal/api/generation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const artifactPendingMessage = "completed, artifact pending"

var artifactExts = map[string]string{
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"video/mp4":        ".mp4",
	"application/json": ".json",
}

// Submit handles POST /api/v1/generations
// Accepts a multipart generation request and answers before any work is done
func (h *GenerationHandler) Submit(c *gin.Context) {
	h.logger.Info("Submit called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		h.reject(c, fmt.Sprintf("invalid multipart payload: %s", err.Error()))
		return
	}

	req, err := generation.Parse(form)
	if err != nil {
		h.reject(c, err.Error())
		return
	}

	job, err := h.dispatcher.Submit(c.Request.Context(), req, c.GetHeader("Accept"))
	if err != nil {
		if errors.Is(err, generation.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, dto.SubmitResponse{
				JobID:  job.ID,
				Status: string(domain.StatusFailed),
				Error:  err.Error(),
			})
			return
		}
		h.logger.Error("Failed to dispatch generation", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to dispatch generation",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitResponse{
		JobID:   job.ID,
		Status:  string(domain.StatusProcessing),
		Message: "Generation started, poll the status endpoint for the result",
	})
}

func (h *GenerationHandler) reject(c *gin.Context, reason string) {
	h.logger.Warn("Invalid generation request", slog.String("reason", reason))
	job := h.dispatcher.Reject(reason)
	c.JSON(http.StatusBadRequest, dto.SubmitResponse{
		JobID:  job.ID,
		Status: string(domain.StatusFailed),
		Error:  reason,
	})
}

// GetStatus handles GET /api/v1/generations/:job_id
// Returns the artifact of a completed job, or a JSON description otherwise
func (h *GenerationHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.Get(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
				"id":    jobID,
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	resp := dto.NewStatusResponse(job)

	switch job.Status {
	case domain.StatusCompleted:
		if blob, kind, ok := job.Artifact(); ok {
			if c.Query("view") != "json" {
				h.serveArtifact(c, job, blob, kind)
				return
			}
		} else {
			resp.Message = artifactPendingMessage
		}
		c.JSON(http.StatusOK, resp)

	case domain.StatusFailed:
		resp.Error = job.Error
		c.JSON(http.StatusInternalServerError, resp)

	default:
		resp.Warning = job.Error
		c.JSON(http.StatusOK, resp)
	}
}

func (h *GenerationHandler) serveArtifact(c *gin.Context, job domain.Job, blob *domain.Blob, kind string) {
	name := job.ID
	if job.Metadata != nil && job.Metadata.FilenamePrefix != "" {
		name = job.Metadata.FilenamePrefix
	}
	ext, ok := artifactExts[blob.ContentType]
	if !ok {
		ext = ".bin"
	}

	h.logger.Debug("Serving artifact",
		slog.String("job_id", job.ID),
		slog.String("kind", kind),
		slog.String("content_type", blob.ContentType),
	)

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s%s"`, name, ext))
	c.Header("Content-Length", strconv.Itoa(len(blob.Content)))
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, blob.ContentType, blob.Content)
}
