package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/invoiceos/docstack/api/handlers"
	"github.com/invoiceos/docstack/api/middleware"
	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/internal/repository"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, cfg *config.Config, s *services.Services, repos *repository.Repositories) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	ctx := context.Background()

	// Health check and status endpoints (no auth needed)
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", tracing.TracingEnhancer(ctx, "GET /status"), handlers.Status(s.CycleScheduler))

	// Manual trigger, gated by its own shared secret
	r.POST("/internal/ingest/run", handlers.TriggerIngest(cfg.IngestConfig, s.CycleScheduler))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-DOCSTACK-API-KEY",
		ValidAPIKey: cfg.AppConfig.APIKey,
	})

	v1 := r.Group("/v1")
	v1.Use(apiKeyMiddleware)
	{
		v1.GET("/ledger", handlers.ListLedger(cfg.MailboxConfig.Mailbox, repos.LedgerRepository))
	}
}
