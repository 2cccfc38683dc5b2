package app

import (
	"context"
	"fmt"
	"io"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/config"
	"github.com/labsage/backend/internal/db"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/services"
	"github.com/labsage/backend/internal/store"
	"github.com/labsage/backend/internal/vector"
	"gorm.io/gorm"
)

// Task names, also the path segment of POST /api/v1/tasks/:name/run.
const (
	TaskFactCollect = "fact_collect"
	TaskDetect      = "detect"
	TaskLogCollect  = "log_collect"
	TaskLogCompress = "log_compress"
)

// App is the wired object graph shared by the daemon and the admin CLI.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Store    *store.GormStore
	Registry *adapters.Registry
	LLM      *services.LLMService
	Memory   *services.MemoryService

	Detector   *services.IncidentDetector
	Facts      *services.FactCollector
	Logs       *services.LogCollector
	Compressor *services.LogCompressor
	Purger     *services.RetentionPurger
	Tasks      *services.TaskSet

	index vector.Index
}

// Build connects to the database and wires every service. Only a database
// failure is fatal; an unreachable Docker daemon just leaves the registry empty.
func Build(cfg *config.Config) (*App, error) {
	if err := db.EnsureDatabase(cfg); err != nil {
		return nil, err
	}
	conn, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(conn); err != nil {
		_ = db.Close(conn)
		return nil, err
	}

	a := &App{
		Config:   cfg,
		DB:       conn,
		Store:    store.New(conn),
		Registry: adapters.NewRegistry(),
	}

	if cfg.DockerEnabled {
		docker, err := adapters.NewDockerAdapter(cfg.DockerHost)
		if err != nil {
			logger.Warn("Docker adapter disabled", map[string]interface{}{
				"host":  cfg.DockerHost,
				"error": err.Error(),
			})
		} else {
			a.Registry.Register(docker)
		}
	}
	if cfg.ProxmoxSnapshotFile != "" {
		a.Registry.Register(adapters.NewProxmoxSnapshotAdapter(cfg.ProxmoxSnapshotFile))
	}

	a.LLM = services.NewLLMService(services.LLMConfig{
		BaseURL:         cfg.OllamaURL,
		Model:           cfg.OllamaModel,
		EmbedModel:      cfg.OllamaEmbedModel,
		GenerateTimeout: cfg.GenerateTimeout,
		EmbedTimeout:    cfg.EmbedTimeout,
	})

	index, err := newIndex(cfg, conn)
	if err != nil {
		a.closeAdapters()
		_ = db.Close(conn)
		return nil, err
	}
	a.index = index
	a.Memory = services.NewMemoryService(a.LLM, index, services.MemoryConfig{
		Collection: cfg.QdrantCollection,
		Dimension:  cfg.EmbedDimension,
	})

	analyzer := services.NewErrorAnalyzer()
	narratives := services.NewNarrativeService(a.LLM, a.Memory, cfg.ContextLimit)

	a.Detector = services.NewIncidentDetector(a.Store, services.DefaultRules(), narratives, a.Memory, cfg.DetectWindow)
	a.Facts = services.NewFactCollector(a.Registry, a.Store)
	a.Logs = services.NewLogCollector(a.Registry, a.Store, analyzer, cfg.LogRetention)
	a.Purger = services.NewRetentionPurger(a.Store)
	a.Compressor = services.NewLogCompressor(a.Store, a.LLM, a.Memory, analyzer, a.Purger, services.CompressorConfig{
		KnowledgeDir:     cfg.KnowledgeDir,
		MaxLines:         cfg.SummaryMaxLines,
		SummaryRetention: cfg.SummaryRetention,
	})

	a.Tasks = services.NewTaskSet(
		services.NewPeriodicTask(TaskFactCollect, cfg.FactInterval, func(ctx context.Context) error {
			_, err := a.Facts.RunCycle(ctx)
			return err
		}),
		services.NewPeriodicTask(TaskDetect, cfg.DetectInterval, func(ctx context.Context) error {
			_, err := a.Detector.RunCycle(ctx)
			return err
		}),
		services.NewPeriodicTask(TaskLogCollect, cfg.LogCollectInterval, func(ctx context.Context) error {
			_, err := a.Logs.RunCycle(ctx)
			return err
		}),
		services.NewPeriodicTask(TaskLogCompress, cfg.LogCompressInterval, func(ctx context.Context) error {
			_, err := a.Compressor.RunCycle(ctx)
			return err
		}),
	)

	logger.Info("Services wired", map[string]interface{}{
		"adapters":      len(a.Registry.All()),
		"vectorBackend": index.Backend(),
		"model":         cfg.OllamaModel,
	})
	return a, nil
}

func newIndex(cfg *config.Config, conn *gorm.DB) (vector.Index, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return vector.NewQdrantIndex(vector.QdrantConfig{
			Host:    cfg.QdrantHost,
			Port:    cfg.QdrantPort,
			APIKey:  cfg.QdrantAPIKey,
			UseTLS:  cfg.QdrantUseTLS,
			Timeout: cfg.EmbedTimeout,
		})
	case "database":
		return vector.NewDatabaseIndex(conn), nil
	case "memory":
		return vector.NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// Close stops the timers and releases the client connections and the
// database pool.
func (a *App) Close() {
	a.Tasks.StopAll()
	a.closeAdapters()
	if closer, ok := a.index.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.WithError(err, "app").Warn("Failed to close vector index")
		}
	}
	if err := db.Close(a.DB); err != nil {
		logger.WithError(err, "app").Warn("Failed to close database")
	}
}

func (a *App) closeAdapters() {
	for _, adapter := range a.Registry.All() {
		if closer, ok := adapter.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.WithError(err, "app").Warn("Failed to close adapter")
			}
		}
	}
}
