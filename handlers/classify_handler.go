package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"tariffdesk-backend/models"
	"tariffdesk-backend/service"

	"github.com/gin-gonic/gin"
)

// ClassifyHandler handles HTTP requests for product classification
type ClassifyHandler struct {
	ingestion *service.IngestionService
	retrieval *service.RetrievalEngine
	ranker    *service.ClassificationRanker
	fallback  *service.RuleBasedFallback
}

// NewClassifyHandler creates a new classification handler
func NewClassifyHandler(
	ingestion *service.IngestionService,
	retrieval *service.RetrievalEngine,
	ranker *service.ClassificationRanker,
	fallback *service.RuleBasedFallback,
) *ClassifyHandler {
	return &ClassifyHandler{
		ingestion: ingestion,
		retrieval: retrieval,
		ranker:    ranker,
		fallback:  fallback,
	}
}

// ClassifyRequest represents the request body for classification
type ClassifyRequest struct {
	Description string             `json:"description" binding:"required"`
	Material    string             `json:"material"`
	Composition map[string]float64 `json:"composition"`
}

// Classify handles POST /api/classify
func (h *ClassifyHandler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	if strings.TrimSpace(req.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "EMPTY_DESCRIPTION",
				"message": "Product description must not be empty",
			},
		})
		return
	}

	product := models.ProductDescription{
		Description: req.Description,
		Material:    req.Material,
		Composition: req.Composition,
	}

	ctx := c.Request.Context()

	if err := h.ingestion.EnsureIndexed(ctx); err != nil {
		log.Printf("Failed to ensure index is populated: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INDEX_UNAVAILABLE",
				"message": "Tariff index is not available yet, try again later",
			},
		})
		return
	}

	chunks, err := h.retrieval.Retrieve(ctx, product)
	if err != nil {
		if errors.Is(err, service.ErrNoRelevantContext) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NO_RELEVANT_CONTEXT",
					"message": "No tariff context matched the product description",
				},
			})
			return
		}
		log.Printf("Retrieval failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": "Failed to retrieve tariff context",
			},
		})
		return
	}

	candidates, err := h.ranker.Classify(ctx, product, chunks)
	if err != nil {
		if errors.Is(err, service.ErrGenerationParse) {
			// The model answered but unusably; degrade to keyword rules
			// rather than failing the request.
			log.Printf("Classification response unparseable, using rule-based fallback: %v", err)
			candidates = h.fallback.Classify(ctx, product)
			if len(candidates) > 0 {
				c.JSON(http.StatusOK, gin.H{
					"success":  true,
					"degraded": true,
					"data":     gin.H{"candidates": candidates},
				})
				return
			}
		}
		log.Printf("Classification failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CLASSIFICATION_FAILED",
				"message": "Failed to classify product",
			},
		})
		return
	}

	if len(candidates) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"candidates": []models.ClassificationCandidate{},
				"message":    "No candidate exceeded the confidence threshold",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"candidates": candidates},
	})
}
