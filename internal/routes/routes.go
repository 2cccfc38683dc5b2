package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/controllers"
	"github.com/labsage/backend/internal/services"
	"github.com/labsage/backend/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Dependencies are the long-lived components the HTTP layer reads from.
type Dependencies struct {
	DB            *gorm.DB
	Store         store.Store
	Registry      *adapters.Registry
	LLM           controllers.LLMInspector
	OllamaURL     string
	Memory        controllers.MemorySearcher
	VectorBackend string
	Tasks         *services.TaskSet
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	healthController := controllers.NewHealthController(deps.DB, deps.Registry, deps.VectorBackend)
	factController := controllers.NewFactController(deps.Store)
	incidentController := controllers.NewIncidentController(deps.Store)
	logController := controllers.NewLogController(deps.Store)
	memoryController := controllers.NewMemoryController(deps.Memory)
	taskController := controllers.NewTaskController(deps.Tasks)
	llmController := controllers.NewLLMController(deps.LLM, deps.OllamaURL)

	r.GET("/health", healthController.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := r.Group("/api/v1")
	{
		facts := api.Group("/facts")
		{
			facts.GET("", factController.ListFacts)
			facts.GET("/latest", factController.GetLatestFact)
		}

		incidents := api.Group("/incidents")
		{
			incidents.GET("", incidentController.ListIncidents)
			incidents.GET("/:id", incidentController.GetIncident)
			incidents.PUT("/:id/status", incidentController.UpdateIncidentStatus)
		}

		api.GET("/logs", logController.GetLogs)
		api.GET("/summaries", logController.GetSummaries)

		api.GET("/memory/search", memoryController.Search)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", taskController.ListTasks)
			tasks.POST("/:name/run", taskController.RunTask)
		}

		// LLM Status endpoint
		llm := api.Group("/llm")
		{
			llm.GET("/status", llmController.GetLLMStatus)
			llm.GET("/api-calls", llmController.GetLLMAPICalls)
			llm.DELETE("/api-calls", llmController.ClearLLMAPICalls)
		}
	}
}
