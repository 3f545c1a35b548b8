package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/Avis2912/magnus/internal/config"
)

type Deps struct {
	LoadConfig func() config.Config
	RunServe   func(context.Context, config.Config) error
	RunPrompt  func(context.Context, config.Config, string) error
	RunMigrate func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "magnus",
		Usage: "run agent tasks and stream their progress",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "engine", Usage: "task engine (demo, command, openai)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(ctx, deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "host", Usage: "listen host"},
					&cli.IntFlag{Name: "port", Usage: "listen port"},
				},
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(ctx, deps)
					if host := strings.TrimSpace(ctx.String("host")); host != "" {
						cfg.Host = host
					}
					if port := ctx.Int("port"); port > 0 {
						cfg.Port = port
					}
					return runServe(ctx.Context, deps, cfg)
				},
			},
			{
				Name:      "run",
				Usage:     "run one prompt in-process and print its event stream",
				ArgsUsage: "<prompt>",
				Action: func(ctx *cli.Context) error {
					prompt := strings.TrimSpace(strings.Join(ctx.Args().Slice(), " "))
					if prompt == "" {
						return errors.New("prompt is required")
					}
					return runPrompt(ctx.Context, deps, loadConfig(ctx, deps), prompt)
				},
			},
			{
				Name:  "journal",
				Usage: "run journal maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "migrate",
						Usage: "create or update the journal schema",
						Action: func(ctx *cli.Context) error {
							return runMigrate(ctx.Context, deps, loadConfig(ctx, deps))
						},
					},
				},
			},
		},
	}
}

// loadConfig applies the global flags on top of the loaded config.
func loadConfig(ctx *cli.Context, deps Deps) config.Config {
	var cfg config.Config
	if deps.LoadConfig != nil {
		cfg = deps.LoadConfig()
	} else {
		cfg = config.LoadConfig()
	}
	if v := strings.TrimSpace(ctx.String("engine")); v != "" {
		cfg.Engine = v
	}
	if v := strings.TrimSpace(ctx.String("log-level")); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runPrompt(ctx context.Context, deps Deps, cfg config.Config, prompt string) error {
	if deps.RunPrompt == nil {
		return errors.New("prompt runner is not configured")
	}
	return deps.RunPrompt(ctx, cfg, prompt)
}

func runMigrate(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrate == nil {
		return errors.New("journal migrate runner is not configured")
	}
	return deps.RunMigrate(ctx, cfg)
}
