package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labsage/backend/internal/app"
	"github.com/labsage/backend/internal/config"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/middleware"
	"github.com/labsage/backend/internal/routes"
	"golang.org/x/sync/errgroup"
)

func CORSMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func main() {
	if err := run(); err != nil {
		logger.Fatal("LabSage daemon stopped", map[string]interface{}{"error": err.Error()})
	}
}

func run() error {
	loader := config.NewLoader(os.Getenv("CONFIG_FILE"))
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Initialize(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	loader.Watch(func(updated *config.Config) {
		logger.SetLevel(updated.LogLevel)
		logger.Info("Configuration reloaded", map[string]interface{}{"log_level": updated.LogLevel})
	})

	a, err := app.Build(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Tasks.StartAll(ctx); err != nil {
		return err
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.RequestLoggerMiddleware())
	r.Use(CORSMiddleware(cfg.CORSOrigin))
	r.Use(gin.Recovery())

	routes.SetupRoutes(r, routes.Dependencies{
		DB:            a.DB,
		Store:         a.Store,
		Registry:      a.Registry,
		LLM:           a.LLM,
		OllamaURL:     cfg.OllamaURL,
		Memory:        a.Memory,
		VectorBackend: cfg.VectorBackend,
		Tasks:         a.Tasks,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting LabSage backend server", map[string]interface{}{
			"port":     cfg.Port,
			"gin_mode": gin.Mode(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server gracefully...", nil)
		a.Tasks.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
			return err
		}
		logger.Info("Server exited gracefully", nil)
		return nil
	})
	return g.Wait()
}
