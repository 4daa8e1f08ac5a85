package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/annex/internal/api"
	"github.com/alecgard/annex/internal/audit"
	"github.com/alecgard/annex/internal/config"
	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/metrics"
	"github.com/alecgard/annex/internal/migration"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/ratelimit"
	"github.com/alecgard/annex/internal/redirect"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the annex admin server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	store := directory.NewPgStore(pool)
	orgs := org.NewResolver(store)
	redirects := redirect.NewMaintainer(store, cfg.Site.Origin)
	engine := migration.NewEngine(store, orgs, redirects)

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})
	engine.SetStepHook(func(op, step string, err error, _ time.Duration) {
		m.IncStep(op, step, err != nil)
	})

	auditStore := audit.NewStore(pool)
	recorder := audit.NewRecorder(auditStore, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	go recorder.Start(ctx)

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	router := api.NewRouter(api.RouterDeps{
		Engine:         engine,
		Store:          store,
		Orgs:           orgs,
		AuditStore:     auditStore,
		Recorder:       recorder,
		Metrics:        m,
		Limiter:        limiter,
		AdminKey:       cfg.Auth.AdminKey,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		DB:             pool,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	recorder.Stop()

	return srv.Shutdown(shutdownCtx)
}
