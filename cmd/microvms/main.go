package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tendry81/micro-vms-2/internal/api"
	"github.com/Tendry81/micro-vms-2/internal/audit"
	"github.com/Tendry81/micro-vms-2/internal/config"
	"github.com/Tendry81/micro-vms-2/internal/db"
	"github.com/Tendry81/micro-vms-2/internal/hub"
	"github.com/Tendry81/micro-vms-2/internal/project"
	"github.com/Tendry81/micro-vms-2/internal/server"
	"github.com/Tendry81/micro-vms-2/internal/session"
	"github.com/Tendry81/micro-vms-2/internal/term"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := project.NewStore(cfg.ProjectsRoot)
	if err != nil {
		return err
	}

	var auditRepo *db.AuditRepo
	database, err := db.Open(ctx, cfg.AuditDB)
	if err != nil {
		slog.Warn("audit database unavailable, events will only be logged", "error", err)
	} else {
		defer database.Close()
		auditRepo = db.NewAuditRepo(database.SQL())
	}
	auditLog := audit.New(auditRepo)

	registry := term.NewRegistry()
	defer registry.Close()

	terminal := session.NewTerminal(registry, hub.NewRoom())
	router := api.NewRouter(cfg, store, terminal, auditLog, auditRepo)

	fmt.Printf("\nmicrovms running at http://localhost:%d (projects: %s)\n\n", cfg.Port, store.Root())

	return server.New(cfg, router).Start(ctx)
}
