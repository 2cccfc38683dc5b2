package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/labsage/backend/internal/config"
	"github.com/labsage/backend/internal/db"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/normalizer"
	"github.com/labsage/backend/internal/services"
	"github.com/labsage/backend/internal/store"
)

// ContainerData is one demo container in data/demo-resources.json.
type ContainerData struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Image    string   `json:"image"`
	State    string   `json:"state"`
	ExitCode *int     `json:"exitCode,omitempty"`
	Logs     []string `json:"logs"`
}

// JSONData represents the structure of the seed file
type JSONData struct {
	Containers []ContainerData `json:"containers"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}
	logger.Initialize(logger.Options{Level: cfg.LogLevel})

	conn, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close(conn)
	if err := db.AutoMigrate(conn); err != nil {
		logger.Fatal("Database migrations failed", map[string]interface{}{"error": err.Error()})
	}

	path := "data/demo-resources.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := loadSeed(path)
	if err != nil {
		logger.Fatal("Failed to read seed file", map[string]interface{}{"path": path, "error": err.Error()})
	}

	facts, lines, err := seed(context.Background(), store.New(conn), data, cfg.LogRetention, time.Now())
	if err != nil {
		logger.Fatal("Seeding failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Database seeding completed successfully", map[string]interface{}{
		"facts": facts,
		"logs":  lines,
	})
}

func loadSeed(path string) (*JSONData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data JSONData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &data, nil
}

// seed writes one status fact per container and its log lines, spaced one
// second apart and ending at now.
func seed(ctx context.Context, st store.Store, data *JSONData, retention time.Duration, now time.Time) (int, int, error) {
	analyzer := services.NewErrorAnalyzer()
	var facts []models.Fact
	var entries []models.LogEntry

	for _, c := range data.Containers {
		ref := normalizer.DockerRef(c.ID)
		fact, err := models.NewFact(ref, "seed", now, models.ContainerStatus{
			ID:       c.ID,
			Name:     c.Name,
			Image:    c.Image,
			State:    c.State,
			ExitCode: c.ExitCode,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("container %s: %w", c.Name, err)
		}
		facts = append(facts, fact)

		start := now.Add(-time.Duration(len(c.Logs)) * time.Second)
		for i, line := range c.Logs {
			entries = append(entries, models.LogEntry{
				ResourceRef:   ref,
				LogSource:     models.LogSourceStdout,
				Content:       line,
				Timestamp:     start.Add(time.Duration(i+1) * time.Second),
				Level:         analyzer.DetectLevel(line),
				RetentionDate: now.Add(retention),
			})
		}
	}

	if err := st.AppendFacts(ctx, facts); err != nil {
		return 0, 0, err
	}
	if err := st.InsertLogEntries(ctx, entries); err != nil {
		return 0, 0, err
	}
	return len(facts), len(entries), nil
}
