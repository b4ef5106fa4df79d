package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.io/infrasutra/ycap/internal/config"
	"github.io/infrasutra/ycap/internal/crypt"
	"github.io/infrasutra/ycap/internal/mailserver"
	"github.io/infrasutra/ycap/internal/session"
	"github.io/infrasutra/ycap/internal/store"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	masterKey, err := crypt.ParseMasterKey(cfg.MasterKey)
	if err != nil {
		logger.Error("parse master key", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	registry := session.NewRegistry()
	srv := mailserver.New(mailserver.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Domain:        cfg.Domain,
		MasterKey:     masterKey,
		ShutdownGrace: cfg.ShutdownGrace,
	}, db, registry, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		// Bind failure or listener loss; nothing to drain.
		logger.Error("mail server stopped", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())
	}

	if err := srv.Close(); err != nil {
		logger.Error("shutdown mail server", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("close database", "error", err)
	}
	logger.Info("server stopped")
}
