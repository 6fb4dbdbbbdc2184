package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"cashback-platform/internal/auth"
	"cashback-platform/internal/config"
	"cashback-platform/internal/httpapi"
	"cashback-platform/internal/notify"
	"cashback-platform/internal/order"
	"cashback-platform/internal/replicator"
	"cashback-platform/internal/wallet"
	"cashback-platform/pkg/logger"
	"cashback-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; env vars win over .env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	primary, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PrimaryDB.DSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("primary store init failed", "err", err)
		os.Exit(1)
	}
	defer primary.Close()

	shadow, err := utils.OpenShadowPostgres(rootCtx, cfg.ShadowDB.DSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("shadow store init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Replication: outbox in the primary store, writers into the shadow.
	outbox := replicator.NewSQLTaskStore(primary)

	registry := replicator.NewRegistry()
	for entityType, w := range map[string]replicator.Writer{
		replicator.EntityWallet:      replicator.NewWalletWriter(primary, shadow),
		replicator.EntityTransaction: replicator.NewTransactionWriter(primary, shadow),
		replicator.EntityOrder:       replicator.NewOrderWriter(primary, shadow),
	} {
		if err := registry.Register(entityType, w); err != nil {
			log.Error("replication registry init failed", "err", err)
			os.Exit(1)
		}
	}

	// Domain services. Every primary mutation enqueues an outbox task in the
	// same transaction.
	walletSvc := wallet.NewService(wallet.NewSQLStore(primary, outbox.Enqueue))
	orderSvc := order.NewService(
		order.NewSQLStore(primary, outbox.Enqueue),
		walletSvc,
		notify.LogNotifier{Log: log},
		log,
	)

	dispatcher := replicator.NewDispatcher(outbox, registry, log,
		cfg.Replication.DispatchInterval, cfg.Replication.BatchSize)
	go dispatcher.Run(rootCtx)

	reconciler := replicator.NewReconciler(
		replicator.NewSQLSource(primary),
		registry,
		replicator.NewGormSyncStateStore(shadow),
		log,
		cfg.Replication.BatchSize,
	)

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	holder := processHolder()
	if err := replicator.ScheduleBackfill(sched, reconciler, rdb, holder, cfg.Replication.BackfillInterval, log); err != nil {
		log.Error("backfill scheduling failed", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer func() { _ = sched.Shutdown() }()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Wallet:      walletSvc,
		Orders:      orderSvc,
		Reconciler:  reconciler,
		ResyncLimit: cfg.Replication.ResyncLimit,
	}
	registerRoutes(r, h, auth.RequireIdentity(verifier))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// processHolder identifies this process for the backfill lease.
func processHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "api"
	}
	return host + "-" + uuid.NewString()
}
