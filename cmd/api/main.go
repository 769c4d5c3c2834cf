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

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/auth"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/billing"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/config"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/flows"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/httpapi"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/monitoring"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/reporting"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/telephony"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/logger"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	metrics := monitoring.Init()

	// Persistence
	callStore := ivr.NewPostgresStore(db)
	channelStore := ivr.NewPostgresChannelStore(db)
	contacts := ivr.NewPostgresContactResolver(db)
	ledger := billing.NewPostgresLedger(db)
	runLog := flows.NewRunLog(flows.NewPostgresRunLog(db))

	// Services
	provider := telephony.NewTwilioProvider(cfg.Twilio)
	callService := ivr.NewService(callStore, channelStore, provider, runLog, cfg.CallbackURL)
	dialer := ivr.NewDialer(callService, rdb, ivr.DialerConfig{
		Workers:        cfg.IVR.DialWorkers,
		OrgConcurrency: cfg.IVR.OrgDialConcurrency,
	})
	dialer.SetMetrics(metrics)
	callService.SetDispatcher(dialer)
	dialer.Start(rootCtx)
	defer dialer.Stop()

	billingService := billing.NewService(ledger)
	reportService := reporting.NewService(reporting.NewStoreRepo(callStore, ledger))
	engine := flows.HangupEngine{Markup: telephony.HangupMarkup()}

	validator := telephony.NewValidator(cfg.IVR.PublicScheme, cfg.IVR.PublicHost)
	gateway := telephony.NewGateway(
		callService, channelStore, contacts, engine,
		billingService, authManager, validator, metrics,
	)

	handlers := httpapi.New(authManager, callService, channelStore, contacts, billingService, reportService)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, db, gateway, handlers, auth.RequireAccessToken(authManager))

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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
