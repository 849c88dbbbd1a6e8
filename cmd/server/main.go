package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"echoman/internal/adapter/httpapi"
	"echoman/internal/di"
	"echoman/internal/infra"
	"echoman/internal/infra/config"
	"echoman/internal/infra/logger"
)

func main() {
	// 1. Load Config
	cfg := config.Load()

	// 2. Initialize Logger
	log := logger.New()
	slog.SetDefault(log)

	// 3. Initialize DB
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	dbPool, err := infra.NewPostgresDB(context.Background(), dsn)
	if err != nil {
		log.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// 4. Wire every repository/usecase/scheduler
	app, err := di.NewApplicationComponents(cfg, dbPool, log)
	if err != nil {
		log.Error("failed to wire application components", "error", err)
		os.Exit(1)
	}

	// 5. Start the fixed-time pipeline scheduler
	schedCtx, cancelSched := context.WithCancel(context.Background())
	go app.Scheduler.Start(schedCtx)
	defer cancelSched()

	// 6. Initialize Echo
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// 7. Register handlers
	handler := httpapi.New(dbPool, app.Ingest, app.Scheduler, app.Monitoring, app.RAGReader, app.SourceItemSweeper, app.TopicSweeper, log)
	handler.Register(e)

	// 8. Start Server
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped unexpectedly", "error", err)
		}
	}()

	// 9. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
