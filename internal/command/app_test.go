package command

import (
	"context"
	"testing"

	"github.com/Avis2912/magnus/internal/config"
)

type calls struct {
	serve   int
	prompt  int
	migrate int
	cfg     config.Config
	text    string
}

func newTestDeps(c *calls) Deps {
	return Deps{
		LoadConfig: func() config.Config {
			return config.Config{Host: "127.0.0.1", Port: 8000, Engine: "demo", LogLevel: "info"}
		},
		RunServe: func(_ context.Context, cfg config.Config) error {
			c.serve++
			c.cfg = cfg
			return nil
		},
		RunPrompt: func(_ context.Context, cfg config.Config, prompt string) error {
			c.prompt++
			c.cfg = cfg
			c.text = prompt
			return nil
		},
		RunMigrate: func(_ context.Context, cfg config.Config) error {
			c.migrate++
			c.cfg = cfg
			return nil
		},
	}
}

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	var c calls
	app := BuildApp(newTestDeps(&c))
	if err := app.RunContext(context.Background(), []string{"magnus"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.serve != 1 || c.prompt != 0 || c.migrate != 0 {
		t.Fatalf("unexpected call count serve=%d prompt=%d migrate=%d", c.serve, c.prompt, c.migrate)
	}
}

func TestBuildApp_ServeFlagsOverrideConfig(t *testing.T) {
	var c calls
	app := BuildApp(newTestDeps(&c))
	args := []string{"magnus", "--engine", "openai", "serve", "--host", "0.0.0.0", "--port", "9001"}
	if err := app.RunContext(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.serve != 1 {
		t.Fatalf("expected serve once, got %d", c.serve)
	}
	if c.cfg.Host != "0.0.0.0" || c.cfg.Port != 9001 || c.cfg.Engine != "openai" {
		t.Fatalf("flags not applied: %+v", c.cfg)
	}
}

func TestBuildApp_RunJoinsPromptArgs(t *testing.T) {
	var c calls
	app := BuildApp(newTestDeps(&c))
	if err := app.RunContext(context.Background(), []string{"magnus", "--log-level", "debug", "run", "summarize", "the", "news"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.prompt != 1 || c.text != "summarize the news" {
		t.Fatalf("unexpected prompt call count=%d text=%q", c.prompt, c.text)
	}
	if c.cfg.LogLevel != "debug" {
		t.Fatalf("expected log level flag applied, got %q", c.cfg.LogLevel)
	}
}

func TestBuildApp_RunRequiresPrompt(t *testing.T) {
	var c calls
	app := BuildApp(newTestDeps(&c))
	if err := app.RunContext(context.Background(), []string{"magnus", "run"}); err == nil {
		t.Fatal("expected error for missing prompt")
	}
	if c.prompt != 0 {
		t.Fatalf("prompt runner should not be called, got %d", c.prompt)
	}
}

func TestBuildApp_JournalMigrateCommand(t *testing.T) {
	var c calls
	app := BuildApp(newTestDeps(&c))
	if err := app.RunContext(context.Background(), []string{"magnus", "journal", "migrate"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if c.migrate != 1 {
		t.Fatalf("expected migrate command called once, got %d", c.migrate)
	}
}

func TestBuildApp_MissingRunnerFails(t *testing.T) {
	app := BuildApp(Deps{LoadConfig: func() config.Config { return config.Config{} }})
	if err := app.RunContext(context.Background(), []string{"magnus", "serve"}); err == nil {
		t.Fatal("expected error when serve runner is not configured")
	}
}
