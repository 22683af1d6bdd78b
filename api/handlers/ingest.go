package handlers

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/services/ingestion"
)

// TriggerIngest runs one ingestion cycle on demand. The endpoint exists for
// operational debugging and is disabled unless both the enable flag and a
// shared secret are configured.
func TriggerIngest(cfg *config.IngestConfig, scheduler *ingestion.CycleScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.TriggerEnabled || cfg.TriggerSecret == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		secret := c.GetHeader("X-Ingest-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(cfg.TriggerSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
			return
		}

		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerIngest", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		result := scheduler.RunCycle(ctx)
		c.JSON(http.StatusOK, result)
	}
}

// ListLedger returns the newest ledger entries for the watched mailbox
func ListLedger(mailbox string, ledger interfaces.LedgerRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 200 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
				return
			}
			limit = parsed
		}

		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListLedger", c.Request.Header)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		entries, err := ledger.ListRecent(ctx, mailbox, limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list ledger entries"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"mailbox": mailbox,
			"entries": entries,
		})
	}
}
