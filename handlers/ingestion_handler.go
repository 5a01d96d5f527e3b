package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"tariffdesk-backend/models"
	"tariffdesk-backend/service"

	"github.com/gin-gonic/gin"
)

// ingestionRunTimeout bounds a background run triggered over HTTP
const ingestionRunTimeout = 30 * time.Minute

// IngestionHandler handles HTTP requests for ingestion control
type IngestionHandler struct {
	ingestion *service.IngestionService
}

// NewIngestionHandler creates a new ingestion handler
func NewIngestionHandler(ingestion *service.IngestionService) *IngestionHandler {
	return &IngestionHandler{ingestion: ingestion}
}

// TriggerRun handles POST /api/ingestion/run. The run executes in the
// background; the response only acknowledges the trigger.
func (h *IngestionHandler) TriggerRun(c *gin.Context) {
	// Probe for an in-flight run synchronously so the caller gets a 409
	// instead of a silent no-op.
	status := h.ingestion.Status()
	if status.Status == models.RunStatusInProgress {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RUN_IN_PROGRESS",
				"message": "An ingestion run is already in progress",
			},
		})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ingestionRunTimeout)
		defer cancel()

		if err := h.ingestion.RunOnce(ctx); err != nil {
			if errors.Is(err, service.ErrIngestionInFlight) {
				return
			}
			log.Printf("Triggered ingestion run failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"message": "Ingestion run started",
			"run":     h.ingestion.Status(),
		},
	})
}

// Status handles GET /api/ingestion/status
func (h *IngestionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.ingestion.Status(),
	})
}
