package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/store"
)

type FactController struct {
	store store.FactStore
}

func NewFactController(st store.FactStore) *FactController {
	return &FactController{store: st}
}

// ListFacts returns facts newest first, filtered by resourceRef, factType,
// since and until.
func (fc *FactController) ListFacts(c *gin.Context) {
	limit, err := queryLimit(c, 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since, err := queryTime(c, "since")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	until, err := queryTime(c, "until")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	facts, err := fc.store.ListFacts(c.Request.Context(), store.FactQuery{
		ResourceRef: c.Query("resourceRef"),
		FactType:    models.FactType(c.Query("factType")),
		Since:       since,
		Until:       until,
		Limit:       limit,
	})
	if err != nil {
		logger.WithError(err, "fact_controller").Error("Failed to list facts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch facts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"facts": facts,
		"count": len(facts),
	})
}

// GetLatestFact returns the newest fact of a type for one resource, with its
// payload decoded.
func (fc *FactController) GetLatestFact(c *gin.Context) {
	resourceRef := c.Query("resourceRef")
	factType := c.Query("factType")
	if resourceRef == "" || factType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resourceRef and factType are required"})
		return
	}

	fact, err := fc.store.LatestFact(c.Request.Context(), resourceRef, models.FactType(factType))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No fact found"})
		return
	}
	if err != nil {
		logger.WithError(err, "fact_controller").Error("Failed to load latest fact")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch fact"})
		return
	}

	payload, err := fact.Payload()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"fact": fact})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fact":    fact,
		"payload": payload,
	})
}
