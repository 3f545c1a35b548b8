package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Avis2912/magnus/internal/application"
	"github.com/Avis2912/magnus/internal/command"
	"github.com/Avis2912/magnus/internal/config"
	"github.com/Avis2912/magnus/internal/journal"
	"github.com/Avis2912/magnus/internal/logging"
)

var version = "dev"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe:   runServe,
		RunPrompt: func(ctx context.Context, cfg config.Config, prompt string) error {
			return runPrompt(ctx, os.Stdout, cfg, prompt)
		},
		RunMigrate: func(ctx context.Context, cfg config.Config) error {
			return runMigrate(ctx, os.Stdout, cfg)
		},
	})
	app.Version = version
	if err := app.RunContext(rootCtx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "magnus: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    os.Stderr,
		Component: "magnus",
		Text:      strings.EqualFold(cfg.LogFormat, "text"),
	})
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg)
	logger.Info("starting", "version", version, "env", cfg.Env, "config_files", cfg.LoadedFiles)
	app, err := application.StartApplication(ctx, application.StartOptions{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func runPrompt(ctx context.Context, out io.Writer, cfg config.Config, prompt string) error {
	t, err := application.RunPrompt(ctx, application.StartOptions{Config: cfg, Logger: newLogger(cfg)}, prompt, out)
	if t.ID != "" {
		_, _ = fmt.Fprintf(out, "task %s %s\n", t.ID, t.Status)
	}
	return err
}

func runMigrate(_ context.Context, out io.Writer, cfg config.Config) error {
	store, err := journal.Open(cfg.JournalDSN)
	if err != nil {
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}
	dsn := cfg.JournalDSN
	if dsn == "" {
		dsn = journal.MemoryDSN
	}
	_, _ = fmt.Fprintf(out, "journal schema ready: %s\n", dsn)
	return nil
}
