package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/store"
)

type IncidentController struct {
	store store.IncidentStore
}

func NewIncidentController(st store.IncidentStore) *IncidentController {
	return &IncidentController{store: st}
}

type UpdateIncidentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ListIncidents returns incidents newest first with their narratives.
func (ic *IncidentController) ListIncidents(c *gin.Context) {
	limit, err := queryLimit(c, 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := models.IncidentStatus(c.Query("status"))
	if status != "" && !models.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
		return
	}

	incidents, err := ic.store.ListIncidents(c.Request.Context(), store.IncidentQuery{
		Status:      status,
		ResourceRef: c.Query("resourceRef"),
		Limit:       limit,
	})
	if err != nil {
		logger.WithError(err, "incident_controller").Error("Failed to list incidents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch incidents"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func (ic *IncidentController) GetIncident(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid incident ID"})
		return
	}

	incident, err := ic.store.GetIncident(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
		return
	}
	if err != nil {
		logger.WithError(err, "incident_controller").Error("Failed to load incident")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch incident"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": incident})
}

// UpdateIncidentStatus moves an incident along its lifecycle. Resolved is terminal.
func (ic *IncidentController) UpdateIncidentStatus(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid incident ID"})
		return
	}

	var req UpdateIncidentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}
	status := models.IncidentStatus(req.Status)
	if !models.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
		return
	}

	incident, err := ic.store.UpdateIncidentStatus(c.Request.Context(), id, status, time.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
		return
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.WithError(err, "incident_controller").Error("Failed to update incident status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update incident"})
		return
	}

	logger.Info("Incident status updated", map[string]interface{}{
		"incident_id": incident.ID,
		"status":      incident.Status,
	})
	c.JSON(http.StatusOK, gin.H{"incident": incident})
}
