package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Avis2912/magnus/internal/bridge"
	"github.com/Avis2912/magnus/internal/config"
	"github.com/Avis2912/magnus/internal/engine"
	"github.com/Avis2912/magnus/internal/journal"
	"github.com/Avis2912/magnus/internal/logging"
	"github.com/Avis2912/magnus/internal/runner"
	"github.com/Avis2912/magnus/internal/task"
)

// Runtime is the task pipeline without any network surface: log hub,
// registry, bridge, runner and run journal.
type Runtime struct {
	Logger   *slog.Logger
	Hub      *logging.Hub
	Registry *task.Registry
	Bridge   *bridge.Bridge
	Runner   *runner.Runner
	Journal  *journal.Store
}

func NewRuntime(opts StartOptions) (*Runtime, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = logging.NewLogger(logging.Options{
			Level:     cfg.LogLevel,
			Component: "magnus",
			Text:      strings.EqualFold(cfg.LogFormat, "text"),
		})
	}
	hub := logging.NewHub(base.Handler())
	lg := hub.Logger()

	eng := opts.Engine
	if eng == nil {
		var err error
		eng, err = BuildEngine(cfg, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
	}

	store, err := journal.Open(cfg.JournalDSN)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	reg := task.NewRegistry(task.WithSnapshotEvery(cfg.SnapshotEvery))
	reg.OnTerminal(store.Hook(lg))
	br := bridge.New(hub, reg, bridge.WithLogger(lg))
	r := runner.New(reg, br, eng, runner.Options{
		Deadline:      cfg.TaskTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
		Logger:        lg,
	})
	lg.Info("runtime ready",
		"module", "application",
		"engine", fmt.Sprintf("%T", eng),
		"snapshot_every", cfg.SnapshotEvery,
		"max_concurrent", cfg.MaxConcurrent,
		"task_timeout", r.Deadline().String(),
	)
	return &Runtime{Logger: lg, Hub: hub, Registry: reg, Bridge: br, Runner: r, Journal: store}, nil
}

// Close waits for in-flight runs, then closes the journal and the hub.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	waitErr := rt.Runner.WaitAll(ctx)
	if waitErr != nil {
		rt.Logger.Warn("runs still in flight at shutdown", "module", "application", "err", waitErr)
	}
	err := rt.Journal.Close()
	rt.Hub.Close()
	return err
}

// BuildEngine returns the engine named by cfg.Engine.
func BuildEngine(cfg config.Config, httpClient *http.Client) (engine.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", config.EngineDemo:
		return engine.NewDemo(cfg.DemoDelay), nil
	case config.EngineCommand:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("engine %q requires MAGNUS_COMMAND", cfg.Engine)
		}
		return &engine.Command{Path: cfg.Command, Args: cfg.CommandArgs}, nil
	case config.EngineOpenAI:
		if strings.TrimSpace(cfg.OpenAIModel) == "" {
			return nil, fmt.Errorf("engine %q requires OPENAI_MODEL", cfg.Engine)
		}
		return engine.NewOpenAI(engine.OpenAIConfig{
			BaseURL:      cfg.OpenAIEndpoint,
			Model:        cfg.OpenAIModel,
			APIKey:       cfg.OpenAIAPIKey,
			Instructions: cfg.OpenAIInstructions,
		}, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported engine: %s", cfg.Engine)
	}
}
