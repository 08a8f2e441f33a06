package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lazuer/tabulate-analysis-core/internal/broker"
	"github.com/lazuer/tabulate-analysis-core/internal/config"
	"github.com/lazuer/tabulate-analysis-core/internal/httpapi"
	"github.com/lazuer/tabulate-analysis-core/internal/jobapi"
	"github.com/lazuer/tabulate-analysis-core/internal/logger"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load(log)

	log.Info("connecting to postgres")
	db, err := gorm.Open(postgres.Open(cfg.BrokerAddress), &gorm.Config{})
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	log.Info("connecting to redis")
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	b, err := broker.New(db, rdb, cfg.MaxJobAttempts, log)
	if err != nil {
		log.Error("failed to init broker", "error", err)
		os.Exit(1)
	}

	jobs := jobapi.New(b, cfg.DataDir, log)
	handler := httpapi.NewHandler(jobs, log)
	router := httpapi.NewRouter(handler, log)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	log.Info("http server stopped")
}
