package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/store"
)

type LogStore interface {
	store.LogStore
	store.SummaryStore
}

type LogController struct {
	store LogStore
}

func NewLogController(st LogStore) *LogController {
	return &LogController{store: st}
}

// GetLogs returns ingested log lines newest first.
func (lc *LogController) GetLogs(c *gin.Context) {
	limit, err := queryLimit(c, 200)
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

	entries, err := lc.store.ListLogs(c.Request.Context(), store.LogQuery{
		ResourceRef: c.Query("resourceRef"),
		Level:       models.LogLevel(strings.ToUpper(c.Query("level"))),
		Since:       since,
		Until:       until,
		Limit:       limit,
	})
	if err != nil {
		logger.WithError(err, "log_controller").Error("Failed to list logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  entries,
		"count": len(entries),
	})
}

// GetSummaries returns daily summaries newest first. Failed attempts are
// included so operators can see retries pending.
func (lc *LogController) GetSummaries(c *gin.Context) {
	limit, err := queryLimit(c, 30)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since, err := queryTime(c, "since")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docs, err := lc.store.ListSummaries(c.Request.Context(), store.SummaryQuery{
		ResourceRef: c.Query("resourceRef"),
		Since:       since,
		Limit:       limit,
	})
	if err != nil {
		logger.WithError(err, "log_controller").Error("Failed to list summaries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch summaries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summaries": docs,
		"count":     len(docs),
	})
}
