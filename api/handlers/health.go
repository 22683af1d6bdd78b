package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/invoiceos/docstack/services/ingestion"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the mailbox ingestion state and recently seen messages
func Status(scheduler *ingestion.CycleScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := scheduler.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to load ingestion state",
			})
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}
