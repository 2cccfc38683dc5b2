package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/services"
)

// MemorySearcher is the error-propagating retrieval used by the query API.
type MemorySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]services.ContextItem, error)
}

type MemoryController struct {
	memory MemorySearcher
}

func NewMemoryController(memory MemorySearcher) *MemoryController {
	return &MemoryController{memory: memory}
}

func (mc *MemoryController) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	limit, err := queryLimit(c, 5)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := mc.memory.Search(c.Request.Context(), query, limit)
	if err != nil {
		logger.WithError(err, "memory_controller").Warn("Memory search failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "Memory search unavailable",
			"errorKind": services.KindOf(err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": items,
		"count":   len(items),
	})
}
