package main

import (
	"os"

	"github.com/labsage/backend/internal/config"
	"github.com/labsage/backend/internal/db"
	"github.com/labsage/backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}
	logger.Initialize(logger.Options{Level: cfg.LogLevel})

	if err := db.EnsureDatabase(cfg); err != nil {
		logger.Fatal("Failed to ensure database", map[string]interface{}{"error": err.Error()})
	}

	conn, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close(conn)

	logger.Info("Running database migrations...", nil)
	if err := db.AutoMigrate(conn); err != nil {
		logger.Error("Database migrations failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("Database migrations completed successfully", nil)
}
