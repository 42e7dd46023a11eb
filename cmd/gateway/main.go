package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/joripage/execution-gateway/config"
	"github.com/joripage/execution-gateway/pkg/gateway"
	"github.com/joripage/execution-gateway/pkg/gateway/broker"
	"github.com/joripage/execution-gateway/pkg/gateway/events"
	"github.com/joripage/execution-gateway/pkg/gateway/gate"
	"github.com/joripage/execution-gateway/pkg/gateway/reconcile"
	"github.com/joripage/execution-gateway/pkg/gateway/repo"
	"github.com/joripage/execution-gateway/pkg/gateway/reservation"
	"github.com/joripage/execution-gateway/pkg/gateway/webhook"
	"github.com/joripage/execution-gateway/pkg/httpapi"
	postgres_wrapper "github.com/joripage/execution-gateway/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/execution-gateway/pkg/infra/redis"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync() // nolint
	zap.ReplaceGlobals(logger)

	go func() {
		_ = http.ListenAndServe("localhost:6060", nil)
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		zap.S().Fatalf("load config fail with err: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// init db
	db, err := postgres_wrapper.InitPostgres(cfg.GatewayDB)
	if err != nil {
		zap.S().Fatalf("init db fail with err: %v", err)
	}
	sqlRepo := repo.NewRepo(db)

	// init redis
	redisClient, err := redis_wrapper.InitRedis(cfg.Redis)
	if err != nil {
		zap.S().Fatalf("init redis fail with err: %v", err)
	}

	// Events are best-effort: a missing NATS degrades to a no-op emitter so
	// order flow keeps moving.
	var emitter events.Emitter = events.NewNopEmitter()
	nc, err := nats.Connect(cfg.Nats.URL)
	if err != nil {
		zap.S().Warnw("nats unavailable, events disabled", "url", cfg.Nats.URL, "err", err)
	} else {
		js, err := nc.JetStream()
		if err == nil {
			pub, perr := events.NewPublisher(js, cfg.Nats.Stream, cfg.Nats.Subject)
			if perr != nil {
				zap.S().Warnw("jetstream stream setup failed, events disabled", "err", perr)
			} else {
				emitter = pub
			}
		}
	}

	// broker adapter
	var brk broker.Broker
	if cfg.Broker.Paper {
		brk = broker.NewPaperBroker()
	} else {
		brk = broker.NewHTTPBroker(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.Timeout())
	}
	zap.S().Infow("broker adapter ready", "name", brk.Name())

	reservations := reservation.NewStore(redisClient, cfg.Reservation.TTL())

	killSwitch := gate.NewKillSwitchStore(redisClient)
	breaker := gate.NewBreakerStore(redisClient)
	quarantine := gate.NewQuarantineStore(redisClient)
	limiter := gate.NewRateLimiter(redisClient, cfg.Gates.RateLimitPerMinute)

	engine := reconcile.NewEngine(reconcile.Config{
		Interval:    cfg.Reconcile.Interval(),
		RunTimeout:  cfg.Reconcile.RunTimeout(),
		OrphanGrace: cfg.Reconcile.OrphanGrace(),
	}, sqlRepo, brk, emitter)
	go engine.Start(ctx)

	builder := gate.NewBuilder(gate.Deps{
		KillSwitch:             killSwitch,
		Breaker:                breaker,
		Quarantine:             quarantine,
		RateLimiter:            limiter,
		Reservations:           reservations,
		Ready:                  engine,
		AvailabilityTimeout:    cfg.Gates.AvailabilityTimeout(),
		CancelUsesTradingGates: cfg.Gates.CancelUsesTradingGates,
	})
	chains := gateway.Chains{
		Trading: builder.TradingChain(),
		Slice:   builder.SliceChain(),
		Cancel:  builder.CancelChain(),
		Admin:   builder.AdminChain(),
	}

	service := gateway.NewService(gateway.ServiceConfig{
		Limits:        cfg.Limits,
		FatFinger:     cfg.FatFinger,
		BrokerTimeout: cfg.Broker.Timeout(),
	}, chains, reservations, sqlRepo, brk, emitter, killSwitch)

	ingestor := webhook.NewIngestor(webhook.Config{
		Secret:  cfg.Webhook.Secret,
		MaxSkew: cfg.Webhook.MaxSkew(),
	}, sqlRepo, emitter)

	server := httpapi.NewServer(cfg.HTTP, service, ingestor, engine)
	go func() {
		if err := server.Start(); err != nil {
			zap.S().Fatalf("http server fail with err: %v", err)
		}
	}()

	<-sigs
	zap.S().Info("shutting down")
	cancel()
}
