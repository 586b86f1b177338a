package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/avastel/mediavault-backend/internal/observability"
)

type HealthHandler struct {
	counters *observability.Counters
}

func NewHealthHandler(counters *observability.Counters) *HealthHandler {
	return &HealthHandler{counters: counters}
}

// GET /healthz
func (h *HealthHandler) Health(c *gin.Context) {
	RespondOK(c, gin.H{"status": "ok"})
}

// GET /api/counters
func (h *HealthHandler) Counters(c *gin.Context) {
	RespondOK(c, gin.H{"counters": h.counters.Snapshot()})
}
