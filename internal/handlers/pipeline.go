package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veroniica/detector-de-mentiras/internal/dedup"
	"github.com/veroniica/detector-de-mentiras/internal/domain"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
	"github.com/veroniica/detector-de-mentiras/internal/worker"
)

type PipelineHandler struct {
	log    *logger.Logger
	intake *worker.Worker
}

func NewPipelineHandler(log *logger.Logger, intake *worker.Worker) *PipelineHandler {
	return &PipelineHandler{
		log:    log.With("handler", "PipelineHandler"),
		intake: intake,
	}
}

// POST /api/ingest
func (h *PipelineHandler) Ingest(c *gin.Context) {
	var ev domain.IngestEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_EVENT", err)
		return
	}
	if ev.Version <= 0 {
		ev.Version = 1
	}
	audioID, err := h.intake.Submit(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, dedup.ErrSuppressed) {
			c.JSON(http.StatusAccepted, gin.H{
				"audioId":    audioID,
				"version":    ev.Version,
				"suppressed": true,
			})
			return
		}
		RespondError(c, http.StatusInternalServerError, "INGEST_FAILED", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"audioId":    audioID,
		"version":    ev.Version,
		"suppressed": false,
	})
}

// GET /api/executions/:audioID?version=N
func (h *PipelineHandler) DescribeExecution(c *gin.Context) {
	audioID := c.Param("audioID")
	version := 0
	if raw := c.Query("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			RespondError(c, http.StatusBadRequest, "INVALID_VERSION", fmt.Errorf("version must be a positive integer"))
			return
		}
		version = v
	}
	rec, err := h.intake.Describe(c.Request.Context(), audioID, version)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "DESCRIBE_FAILED", err)
		return
	}
	if rec == nil {
		RespondError(c, http.StatusNotFound, "NOT_FOUND", fmt.Errorf("no execution for audio %s", audioID))
		return
	}
	RespondOK(c, rec)
}

// GET /api/executions?pending=1
func (h *PipelineHandler) ListExecutions(c *gin.Context) {
	if c.Query("pending") != "1" {
		RespondError(c, http.StatusBadRequest, "INVALID_FILTER", fmt.Errorf("only pending=1 is supported"))
		return
	}
	recs, err := h.intake.ListPending(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "LIST_FAILED", err)
		return
	}
	RespondOK(c, gin.H{"executions": recs})
}
