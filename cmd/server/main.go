// Package main runs the marketplace HTTP server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/tradeit-market/tradeit/internal/app"
	"github.com/tradeit-market/tradeit/internal/app/httpapi"
	"github.com/tradeit-market/tradeit/internal/config"
	"github.com/tradeit-market/tradeit/internal/middleware"
	"github.com/tradeit-market/tradeit/internal/treestore"
	"github.com/tradeit-market/tradeit/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", config.DefaultPath(), "path to YAML config")
	addr := flag.String("addr", "", "listen address override")
	storeDriver := flag.String("store", "", "store driver override (memory|postgres)")
	dsn := flag.String("dsn", "", "postgres DSN override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("server").WithError(err).Fatal("load configuration")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *storeDriver != "" {
		cfg.Store.Driver = *storeDriver
	}
	if *dsn != "" {
		cfg.Store.DSN = *dsn
	}

	log := logger.New("server", cfg.Log.Level)

	store, cleanup, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer cleanup()

	application, err := app.New(store, app.Options{ReconcileSchedule: cfg.Reconcile.Schedule}, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	handler := httpapi.NewHandler(application, log)
	ratelimit := middleware.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst, log)
	ratelimit.StartCleanup(time.Minute)
	cors := middleware.NewCORS(cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      cors.Handler(ratelimit.Handler(handler)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("marketplace API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("stopped")
}

// openStore builds the configured tree store. The returned cleanup
// closes any underlying connections.
func openStore(cfg config.Config, log *logger.Logger) (treestore.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store := treestore.NewPostgres(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("using postgres store")
		return store, func() { db.Close() }, nil
	default:
		log.Info("using in-memory store")
		return treestore.NewMemory(), func() {}, nil
	}
}
