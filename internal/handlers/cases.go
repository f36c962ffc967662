package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veroniica/detector-de-mentiras/internal/aggregator"
	"github.com/veroniica/detector-de-mentiras/internal/pkg/logger"
)

type CaseHandler struct {
	log *logger.Logger
	agg *aggregator.Aggregator
}

func NewCaseHandler(log *logger.Logger, agg *aggregator.Aggregator) *CaseHandler {
	return &CaseHandler{
		log: log.With("handler", "CaseHandler"),
		agg: agg,
	}
}

// GET /api/cases/:caseID/report
func (h *CaseHandler) Report(c *gin.Context) {
	caseID := c.Param("caseID")
	agg, err := h.agg.Report(c.Request.Context(), caseID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "REPORT_FAILED", err)
		return
	}
	if agg == nil {
		RespondError(c, http.StatusNotFound, "NOT_FOUND", fmt.Errorf("no report for case %s", caseID))
		return
	}
	report, err := agg.InconsistencyReport()
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "REPORT_FAILED", err)
		return
	}
	RespondOK(c, gin.H{
		"caseId":     agg.CaseID,
		"generation": agg.Generation,
		"computedAt": agg.ComputedAt,
		"report":     report,
	})
}

// POST /api/cases/:caseID/recompute
func (h *CaseHandler) Recompute(c *gin.Context) {
	caseID := c.Param("caseID")
	agg, err := h.agg.Recompute(c.Request.Context(), caseID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "RECOMPUTE_FAILED", err)
		return
	}
	RespondOK(c, gin.H{
		"caseId":     agg.CaseID,
		"generation": agg.Generation,
		"computedAt": agg.ComputedAt,
	})
}
