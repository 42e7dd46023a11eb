package main

import (
	"context"
	"flag"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/config"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
	"github.com/joripage/execution-gateway/pkg/gateway/worker"
	postgres_wrapper "github.com/joripage/execution-gateway/pkg/infra/postgres"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync() // nolint
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(configFile)
	if err != nil {
		zap.S().Fatalf("load config fail with err: %v", err)
	}

	ctx := context.Background()

	nc, err := nats.Connect(cfg.Nats.URL)
	if err != nil {
		zap.S().Fatalf("connect nats fail with err: %v", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		zap.S().Fatalf("jetstream fail with err: %v", err)
	}

	// The publisher side owns stream creation; the worker only consumes, so
	// AddStream here is idempotent bootstrap for a worker-first deploy.
	_, _ = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Nats.Stream,
		Subjects: []string{cfg.Nats.Stream + ".*"},
	})

	// init db; the worker may come up before postgres on a cold deploy
	db := postgres_wrapper.InitPostgresWithBackoff(cfg.GatewayDB)
	sqlRepo := repo.NewRepo(db)

	w := worker.NewWorker(sqlRepo)
	if err := w.StartConsumer(ctx, js, cfg.Nats.Subject, cfg.Nats.Durable); err != nil {
		zap.S().Fatalf("consumer fail with err: %v", err)
	}
}
