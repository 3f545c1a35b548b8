package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Avis2912/magnus/internal/lifecycle"
	"github.com/Avis2912/magnus/internal/localapi"
)

type Application struct {
	baseURL    string
	runtime    *Runtime
	runFn      func(context.Context) error
	shutdownFn func(context.Context) error
}

// StartApplication wires the runtime behind the HTTP API. Nothing listens
// until Run is called.
func StartApplication(_ context.Context, opts StartOptions) (*Application, error) {
	cfg := opts.Config
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 8000
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	app := &Application{baseURL: "http://" + addr}
	if opts.Hooks.Run != nil {
		app.runFn = opts.Hooks.Run
		app.shutdownFn = opts.Hooks.Shutdown
		return app, nil
	}

	rt, err := NewRuntime(opts)
	if err != nil {
		return nil, err
	}
	app.runtime = rt
	api := localapi.NewServer(localapi.Deps{
		Tasks:          rt.Registry,
		Runner:         rt.Runner,
		Journal:        rt.Journal,
		Logger:         rt.Logger,
		Heartbeat:      cfg.Heartbeat,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	mgr := lifecycle.NewManager(lifecycle.WithLogger(rt.Logger))
	mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		rt.Logger.Info("listening", "module", "application", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	mgr.AddShutdown("close-runtime", rt.Close)
	mgr.AddShutdown("http-server-shutdown", func(ctx context.Context) error {
		if err := httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	app.runFn = func(ctx context.Context) error {
		return mgr.StartAndWait(ctx)
	}
	app.shutdownFn = func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	return app, nil
}

func (a *Application) LocalAPIBaseURL() string {
	if a == nil {
		return ""
	}
	return a.baseURL
}

func (a *Application) Runtime() *Runtime {
	if a == nil {
		return nil
	}
	return a.runtime
}

// Run serves until ctx is done, then drains in-flight runs and closes the
// runtime.
func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.runFn == nil {
		return nil
	}
	return a.runFn(ctx)
}

func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil || a.shutdownFn == nil {
		return nil
	}
	return a.shutdownFn(ctx)
}
