package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/services"
)

// LLMInspector exposes the health and call history of the Ollama client.
type LLMInspector interface {
	CheckLLMHealth(ctx context.Context) error
	GetAvailableModels(ctx context.Context) ([]string, error)
	Model() string
	EmbedModel() string
	GetAPICalls() []services.LLMAPICall
	ClearAPICalls()
}

type LLMController struct {
	llm       LLMInspector
	ollamaURL string
}

func NewLLMController(llm LLMInspector, ollamaURL string) *LLMController {
	return &LLMController{llm: llm, ollamaURL: ollamaURL}
}

// GetLLMStatus returns the status of the LLM service and available models
func (lc *LLMController) GetLLMStatus(c *gin.Context) {
	models, modelsError := lc.llm.GetAvailableModels(c.Request.Context())

	status := "healthy"
	var healthError string
	if modelsError != nil {
		status = "unhealthy"
		healthError = modelsError.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"healthError":     healthError,
		"errorKind":       services.KindOf(modelsError),
		"currentModel":    lc.llm.Model(),
		"embedModel":      lc.llm.EmbedModel(),
		"availableModels": models,
		"ollamaUrl":       lc.ollamaURL,
	})
}

// GetLLMAPICalls returns all tracked LLM API calls
func (lc *LLMController) GetLLMAPICalls(c *gin.Context) {
	calls := lc.llm.GetAPICalls()
	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

// ClearLLMAPICalls clears the API call history
func (lc *LLMController) ClearLLMAPICalls(c *gin.Context) {
	lc.llm.ClearAPICalls()
	c.JSON(http.StatusOK, gin.H{"message": "API call history cleared"})
}
