package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lazuer/tabulate-analysis-core/internal/jobapi"
	"github.com/lazuer/tabulate-analysis-core/internal/logger"
)

// Handler wraps jobapi.Service with the four HTTP actions the router
// mounts. Route design is illustrative only; every non-trivial decision
// lives in jobapi, not here.
type Handler struct {
	jobs *jobapi.Service
	log  *logger.Logger
}

func NewHandler(jobs *jobapi.Service, log *logger.Logger) *Handler {
	return &Handler{jobs: jobs, log: log.With("component", "httpapi")}
}

type submitRequest struct {
	Question    string `json:"question"`
	PrimaryFile string `json:"primary_file,omitempty"`
}

// POST /api/jobs
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	job, err := h.jobs.Submit(c.Request.Context(), req.Question, req.PrimaryFile)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, jobapi.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		respondError(c, status, "submit_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *Handler) Status(c *gin.Context) {
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, jobapi.ErrInvalidInput) {
			status = http.StatusNotFound
		}
		respondError(c, status, "job_not_found", err)
		return
	}
	respondOK(c, gin.H{"job": job})
}

// POST /api/jobs/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		respondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "canceled": true})
}

// GET /api/jobs/:id/stream
//
// Serves the progress stream as server-sent events, replaying from the
// from_seq query parameter (default 0, meaning from the start). The
// connection stays open until the client disconnects or the upstream
// Broker channel closes, which it does once a terminal phase is published.
func (h *Handler) Stream(c *gin.Context) {
	jobID := c.Param("id")
	fromSeq, _ := strconv.ParseInt(c.Query("from_seq"), 10, 64)

	events, errs := h.jobs.Stream(c.Request.Context(), jobID, fromSeq)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("progress", event)
			return true
		case err, ok := <-errs:
			if !ok {
				return true
			}
			if err != nil {
				h.log.Warn("progress stream error", "job_id", jobID, "error", err)
				c.SSEvent("error", gin.H{"message": err.Error()})
			}
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}
