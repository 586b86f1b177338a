package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avastel/mediavault-backend/internal/services"
)

type LedgersHandler struct {
	admin services.AdminService
}

func NewLedgersHandler(admin services.AdminService) *LedgersHandler {
	return &LedgersHandler{admin: admin}
}

// GET /api/ledgers/:id
func (h *LedgersHandler) GetLedger(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	detail, err := h.admin.GetLedger(c.Request.Context(), jobID)
	if err != nil {
		RespondError(c, http.StatusNotFound, "ledger_not_found", err)
		return
	}
	RespondOK(c, detail)
}

// GET /api/ledgers?job_type=&status=&limit=
func (h *LedgersHandler) ListLedgers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	ledgers, err := h.admin.ListLedgers(c.Request.Context(), c.Query("job_type"), c.Query("status"), limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "ledger_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"ledgers": ledgers})
}

type generateRequest struct {
	CollectionIDs []uuid.UUID `json:"collection_ids" binding:"required"`
	JobType       string      `json:"job_type" binding:"required"`
}

// POST /api/ledgers/generate
func (h *LedgersHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ledger, err := h.admin.Generate(c.Request.Context(), req.CollectionIDs, req.JobType)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "generate_failed", err)
		return
	}
	if ledger == nil {
		RespondOK(c, gin.H{"ledger": nil, "message": "all collections satisfied"})
		return
	}
	RespondOK(c, gin.H{"ledger": ledger})
}

// POST /api/ledgers/:id/resume
func (h *LedgersHandler) Resume(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	n, err := h.admin.Resume(c.Request.Context(), jobID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "resume_failed", err)
		return
	}
	RespondOK(c, gin.H{"re_emitted": n})
}

// POST /api/ledgers/:id/pause
func (h *LedgersHandler) Pause(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if err := h.admin.Pause(c.Request.Context(), jobID); err != nil {
		RespondError(c, http.StatusConflict, "pause_failed", err)
		return
	}
	RespondOK(c, gin.H{"paused": true})
}

// POST /api/sweep
func (h *LedgersHandler) TriggerSweep(c *gin.Context) {
	report, err := h.admin.TriggerSweep(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "sweep_failed", err)
		return
	}
	RespondOK(c, gin.H{"report": report})
}

// GET /api/ledgers/stale?timeout_ms=
func (h *LedgersHandler) StaleLedgers(c *gin.Context) {
	var timeout time.Duration
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_timeout", fmt.Errorf("timeout_ms must be a non-negative integer"))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	ledgers, err := h.admin.StaleLedgers(c.Request.Context(), timeout)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "stale_query_failed", err)
		return
	}
	RespondOK(c, gin.H{"ledgers": ledgers})
}
