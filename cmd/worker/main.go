package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lazuer/tabulate-analysis-core/internal/broker"
	"github.com/lazuer/tabulate-analysis-core/internal/config"
	"github.com/lazuer/tabulate-analysis-core/internal/inflation"
	"github.com/lazuer/tabulate-analysis-core/internal/llm"
	"github.com/lazuer/tabulate-analysis-core/internal/loader"
	"github.com/lazuer/tabulate-analysis-core/internal/logger"
	"github.com/lazuer/tabulate-analysis-core/internal/orchestrator"
	"github.com/lazuer/tabulate-analysis-core/internal/sandbox"
	"github.com/lazuer/tabulate-analysis-core/internal/schema"
	"github.com/lazuer/tabulate-analysis-core/internal/worker"
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

	lex, err := schema.Load()
	if err != nil {
		log.Error("failed to load synonym lexicon", "error", err)
		os.Exit(1)
	}
	ld := loader.New(cfg.MaxFileBytes)
	inspector := schema.New(ld, lex)

	inflationCache := inflation.New(cfg.InflationPath, cfg.InflationRefreshMaxAge, inflation.NewHTTPScraper(), log)

	modelClient, err := llm.New(cfg)
	if err != nil {
		log.Error("failed to init model client", "error", err)
		os.Exit(1)
	}

	sandboxExecutor := sandbox.NewContainerExecutor(log, cfg.DataDir)

	orch := orchestrator.New(orchestrator.Deps{
		Broker:    b,
		Inspector: inspector,
		Inflation: inflationCache,
		Model:     modelClient,
		Sandbox:   sandboxExecutor,
		Config:    cfg,
		Log:       log,
	})

	pool := worker.New(b, orch, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)
	log.Info("worker pool running", "worker_count", cfg.WorkerCount)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping new reservations and draining in-flight jobs", "grace", cfg.WorkerShutdownGrace)
	pool.Wait()
	log.Info("worker pool stopped")
}
