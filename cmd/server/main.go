package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nightwatch/internal/alert"
	alerthandler "nightwatch/internal/alert/handler"
	alertmetrics "nightwatch/internal/alert/metrics"
	"nightwatch/internal/anomaly"
	anomalymetrics "nightwatch/internal/anomaly/metrics"
	jwttoken "nightwatch/internal/jwt_token"
	"nightwatch/internal/ledger"
	ledgerhandler "nightwatch/internal/ledger/handler"
	ledgermetrics "nightwatch/internal/ledger/metrics"
	"nightwatch/internal/ledger/stream"
	"nightwatch/internal/performance"
	perfhandler "nightwatch/internal/performance/handler"
	"nightwatch/internal/platform/config"
	"nightwatch/internal/platform/httpserver"
	"nightwatch/internal/platform/logger"
	"nightwatch/internal/platform/postgres"
	platformredis "nightwatch/internal/platform/redis"
	"nightwatch/internal/reconcile"
	"nightwatch/internal/session"
	sessionhandler "nightwatch/internal/session/handler"
	sessionmetrics "nightwatch/internal/session/metrics"
	httptransport "nightwatch/internal/transport/http"
	"nightwatch/pkg/platform/tx"
)

// main wires storage, services, and the HTTP surface, then runs the server
// and the anomaly rescan loop until a shutdown signal. Business logic lives
// in the internal feature packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage. Postgres when configured, in-memory otherwise so the engine
	// can run standalone in development.
	var (
		ledgerStore  ledger.Store
		sessionStore session.Store
		alertStore   alert.Store
		runner       tx.Runner
		healthCheck  func(ctx context.Context) error
	)
	if cfg.PostgresURL != "" {
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		ledgerStore = ledger.NewPostgres(db)
		sessionStore = session.NewPostgres(db)
		alertStore = alert.NewPostgres(db)
		runner = tx.NewSQLRunner(db)
		healthCheck = db.PingContext
		log.Info("using postgres storage")
	} else {
		ledgerStore = ledger.NewInMemoryStore()
		sessionStore = session.NewInMemoryStore()
		alertStore = alert.NewInMemoryStore()
		runner = tx.NewMemoryRunner()
		log.Warn("POSTGRES_URL not set, using in-memory storage")
	}

	// Rolling-window counters live in Redis so the access-violation rule
	// survives restarts and works across replicas.
	var windows anomaly.WindowStore = anomaly.NewMemoryWindowStore()
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		windows = anomaly.NewRedisWindowStore(redisClient.Client)
		log.Info("using redis flagged-action windows")
	} else {
		log.Warn("REDIS_URL not set, using in-memory flagged-action windows")
	}

	ledgerOpts := []ledger.Option{ledger.WithMetrics(ledgermetrics.New())}
	if len(cfg.KafkaSeeds) > 0 {
		publisher, err := stream.New(ctx, cfg.KafkaSeeds, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("kafka publisher failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithSink(publisher))
		log.Info("publishing audit entries", "topic", cfg.KafkaTopic)
	}
	ledgerSvc := ledger.NewService(ledgerStore, log, ledgerOpts...)

	alertSvc := alert.NewService(alertStore, ledgerSvc, runner, log,
		alert.WithMetrics(alertmetrics.New()),
	)

	detector := anomaly.New(alertSvc, ledgerSvc, windows, log,
		anomaly.WithMetrics(anomalymetrics.New()),
		anomaly.WithFlaggedActionRule(cfg.Anomaly.FlaggedActionThreshold, cfg.Anomaly.FlaggedActionWindow),
	)
	// A failed verification halts the tenant chain; the detector escalates
	// it as a critical alert.
	ledgerSvc.SetHaltListener(detector.OnChainHalt)

	sessionSvc := session.NewService(sessionStore, ledgerSvc, runner, log,
		session.WithMetrics(sessionmetrics.New()),
		session.WithDetector(detector),
		session.WithAvgSongDuration(cfg.Reconcile.AvgSongDuration),
		session.WithTolerances(reconcile.Tolerances{
			MatchMax:       cfg.Reconcile.MatchMax,
			MinorMax:       cfg.Reconcile.MinorMax,
			SignificantMax: cfg.Reconcile.SignificantMax,
		}),
	)

	perfSvc := performance.NewService(sessionSvc, alertSvc, log)

	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, "nightwatch", "nightwatch-api")

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:      log,
		Validator:   tokens,
		Sessions:    sessionhandler.New(sessionSvc, log),
		Alerts:      alerthandler.New(alertSvc, log),
		Ledger:      ledgerhandler.New(ledgerSvc, log),
		Performance: perfhandler.New(perfSvc, log),
		Health:      healthCheck,
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting nightwatch", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return detector.Run(gctx, cfg.Anomaly.RescanInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
