package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/avastel/mediavault-backend/internal/handlers"
)

type RouterConfig struct {
	LedgersHandler *handlers.LedgersHandler
	HealthHandler  *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/healthz", cfg.HealthHandler.Health)

	api := router.Group("/api")
	{
		api.GET("/counters", cfg.HealthHandler.Counters)
		api.GET("/ledgers", cfg.LedgersHandler.ListLedgers)
		api.GET("/ledgers/stale", cfg.LedgersHandler.StaleLedgers)
		api.GET("/ledgers/:id", cfg.LedgersHandler.GetLedger)
		api.POST("/ledgers/generate", cfg.LedgersHandler.Generate)
		api.POST("/ledgers/:id/resume", cfg.LedgersHandler.Resume)
		api.POST("/ledgers/:id/pause", cfg.LedgersHandler.Pause)
		api.POST("/sweep", cfg.LedgersHandler.TriggerSweep)
	}

	return router
}
