package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meltforce/rehabreps/internal/config"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/history"
	"github.com/meltforce/rehabreps/internal/metrics"
	"github.com/meltforce/rehabreps/internal/server"
	"github.com/meltforce/rehabreps/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("RehabReps starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Exercise catalog
	var catalog *exercise.Catalog
	if cfg.Catalog.Path != "" {
		catalog, err = exercise.LoadFile(cfg.Catalog.Path)
	} else {
		catalog, err = exercise.Builtin()
	}
	if err != nil {
		log.Error("failed to load exercise catalog", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}
	log.Info("exercise catalog loaded", "exercises", len(catalog.List()))

	// History store: Postgres when configured, in memory otherwise
	ctx := context.Background()
	var store interface {
		history.Store
		server.UserStore
	}
	if cfg.Database.Enabled() {
		dsn := cfg.Database.DSN()
		if err := storage.RunMigrations(dsn); err != nil {
			log.Error("migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied")

		if *migrateOnly {
			log.Info("migrate-only: exiting")
			return
		}

		db, err := storage.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		log.Info("database connected")
		store = db
	} else {
		if *migrateOnly {
			log.Error("migrate-only requires a database host")
			os.Exit(1)
		}
		store = history.NewMemoryStore()
		log.Warn("no database configured, history is kept in memory")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewManager("rehabreps", "engine", reg)

	// Persist finished sessions in the background
	recCtx, stopRecorder := context.WithCancel(ctx)
	recorder := history.NewRecorder(store, log, 64)
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		recorder.Run(recCtx)
	}()

	srv := server.New(server.Options{
		Catalog:  catalog,
		Store:    store,
		Users:    store,
		Recorder: recorder,
		Metrics:  m,
		Gatherer: reg,
		Defaults: cfg.Session,
		APIKey:   cfg.Auth.APIKey,
		Version:  Version,
		Logger:   log,
	})

	// Start server on tsnet or plain HTTP
	var listener net.Listener
	var tsServer *tsnet.Server

	if cfg.Tailscale.Enabled {
		tsServer = &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := srv.Close(shutdownCtx); err != nil {
		log.Error("stopping sessions", "error", err)
	}
	stopRecorder()
	<-recDone
	log.Info("server stopped")
}
