package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/db"
	"gorm.io/gorm"
)

type HealthController struct {
	db            *gorm.DB
	registry      *adapters.Registry
	vectorBackend string
}

func NewHealthController(conn *gorm.DB, registry *adapters.Registry, vectorBackend string) *HealthController {
	return &HealthController{db: conn, registry: registry, vectorBackend: vectorBackend}
}

// Health reports 503 only when the database is unreachable; adapters and
// the vector index are informational.
func (hc *HealthController) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	dbStatus := "up"
	if err := db.Ping(hc.db); err != nil {
		status, code, dbStatus = "unhealthy", http.StatusServiceUnavailable, err.Error()
	}

	adapterStatus := gin.H{}
	if hc.registry != nil {
		for _, a := range hc.registry.All() {
			adapterStatus[a.Name()] = a.IsAvailable(c.Request.Context())
		}
	}

	c.JSON(code, gin.H{
		"status":        status,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"database":      dbStatus,
		"adapters":      adapterStatus,
		"vectorBackend": hc.vectorBackend,
	})
}
