package application

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Avis2912/magnus/internal/config"
	"github.com/Avis2912/magnus/internal/engine"
)

// StartOptions configures one process runtime.
type StartOptions struct {
	Config config.Config
	// Logger is the base logger. It is wrapped by the log hub.
	Logger *slog.Logger
	// Engine overrides the engine selected by Config.Engine.
	Engine engine.Engine
	// HTTPClient is used by engines that call remote APIs.
	HTTPClient *http.Client
	Hooks      Hooks
}

// Hooks replace the run and shutdown behaviour, mainly for CLI tests.
type Hooks struct {
	Run      func(context.Context) error
	Shutdown func(context.Context) error
}
