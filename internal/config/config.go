package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config is the effective process configuration. Values come from built-in
// defaults, then <config dir>/config.toml, then the environment.
type Config struct {
	Env       string
	LogLevel  string
	LogFormat string
	ConfigDir string

	Host           string
	Port           int
	AllowedOrigins []string
	Heartbeat      time.Duration

	TaskTimeout   time.Duration
	SnapshotEvery int
	MaxConcurrent int

	JournalDSN string

	Engine             string
	DemoDelay          time.Duration
	Command            string
	CommandArgs        []string
	OpenAIEndpoint     string
	OpenAIModel        string
	OpenAIAPIKey       string
	OpenAIInstructions string

	// LoadedFiles lists the dotenv and TOML files that contributed.
	LoadedFiles []string
}

const (
	EngineDemo    = "demo"
	EngineCommand = "command"
	EngineOpenAI  = "openai"
)

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

// Load reads dotenv files from the working directory, the config file and
// the environment. The returned Config is usable even when err is non-nil.
func Load() (Config, error) {
	env := strings.TrimSpace(os.Getenv("MAGNUS_ENV"))
	loaded := LoadDotEnv(".", env)

	cfg := defaults()
	cfg.LoadedFiles = loaded
	dir, err := DefaultConfigDir()
	if err == nil {
		cfg.ConfigDir = dir
		var file FileConfig
		file, err = NewFileStore(dir).LoadOrInit()
		if err == nil {
			applyFile(&cfg, file)
			cfg.LoadedFiles = append(cfg.LoadedFiles, NewFileStore(dir).Path())
		}
	}
	applyEnv(&cfg)
	if cfg.Env == "" {
		cfg.Env = env
	}
	return cfg, err
}

func LoadConfig() Config {
	cfg, _ := Load()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	if cacheValid && now.Sub(cachedAt) < cacheTTL {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := LoadConfig()
	return &cfg
}

func defaults() Config {
	return Config{
		LogLevel:       "info",
		LogFormat:      "json",
		Host:           "127.0.0.1",
		Port:           8000,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		Heartbeat:      5 * time.Second,
		TaskTimeout:    3600 * time.Second,
		SnapshotEvery:  1,
		Engine:         EngineDemo,
		DemoDelay:      2 * time.Second,
	}
}

func applyFile(cfg *Config, f FileConfig) {
	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFormat, f.Log.Format)
	setString(&cfg.Host, f.Server.Host)
	if f.Server.Port > 0 {
		cfg.Port = f.Server.Port
	}
	if len(f.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = append([]string{}, f.Server.AllowedOrigins...)
	}
	setSeconds(&cfg.Heartbeat, f.Server.HeartbeatSeconds)
	setSeconds(&cfg.TaskTimeout, f.Tasks.TimeoutSeconds)
	if f.Tasks.SnapshotEvery > 0 {
		cfg.SnapshotEvery = f.Tasks.SnapshotEvery
	}
	if f.Tasks.MaxConcurrent > 0 {
		cfg.MaxConcurrent = f.Tasks.MaxConcurrent
	}
	setString(&cfg.JournalDSN, f.Journal.DSN)
	setString(&cfg.Engine, f.Engine.Kind)
	if f.Engine.DemoDelayMS > 0 {
		cfg.DemoDelay = time.Duration(f.Engine.DemoDelayMS) * time.Millisecond
	}
	setString(&cfg.Command, f.Engine.Command)
	if len(f.Engine.CommandArgs) > 0 {
		cfg.CommandArgs = append([]string{}, f.Engine.CommandArgs...)
	}
	setString(&cfg.OpenAIEndpoint, f.Engine.OpenAIEndpoint)
	setString(&cfg.OpenAIModel, f.Engine.OpenAIModel)
	setString(&cfg.OpenAIInstructions, f.Engine.Instructions)
}

func applyEnv(cfg *Config) {
	setString(&cfg.Env, os.Getenv("MAGNUS_ENV"))
	setString(&cfg.LogLevel, os.Getenv("MAGNUS_LOG_LEVEL"))
	setString(&cfg.LogFormat, os.Getenv("MAGNUS_LOG_FORMAT"))
	setString(&cfg.Host, os.Getenv("MAGNUS_HOST"))
	if n := atoiOrDefault(os.Getenv("MAGNUS_PORT"), 0); n > 0 {
		cfg.Port = n
	}
	if raw := strings.TrimSpace(os.Getenv("MAGNUS_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}
	setSeconds(&cfg.Heartbeat, atoiOrDefault(os.Getenv("MAGNUS_HEARTBEAT_SECONDS"), 0))
	setSeconds(&cfg.TaskTimeout, atoiOrDefault(os.Getenv("MAGNUS_TASK_TIMEOUT_SECONDS"), 0))
	if n := atoiOrDefault(os.Getenv("MAGNUS_SNAPSHOT_EVERY"), 0); n > 0 {
		cfg.SnapshotEvery = n
	}
	if n := atoiOrDefault(os.Getenv("MAGNUS_MAX_CONCURRENT"), 0); n > 0 {
		cfg.MaxConcurrent = n
	}
	setString(&cfg.JournalDSN, os.Getenv("MAGNUS_JOURNAL_DSN"))
	setString(&cfg.Engine, strings.ToLower(os.Getenv("MAGNUS_ENGINE")))
	if raw, ok := os.LookupEnv("MAGNUS_DEMO_DELAY_MS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= 0 {
			cfg.DemoDelay = time.Duration(n) * time.Millisecond
		}
	}
	setString(&cfg.Command, os.Getenv("MAGNUS_COMMAND"))
	if raw := strings.TrimSpace(os.Getenv("MAGNUS_COMMAND_ARGS")); raw != "" {
		cfg.CommandArgs = strings.Fields(raw)
	}
	setString(&cfg.OpenAIEndpoint, os.Getenv("OPENAI_ENDPOINT"))
	setString(&cfg.OpenAIModel, os.Getenv("OPENAI_MODEL"))
	setString(&cfg.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	setString(&cfg.OpenAIInstructions, os.Getenv("MAGNUS_OPENAI_INSTRUCTIONS"))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setSeconds(dst *time.Duration, n int) {
	if n > 0 {
		*dst = time.Duration(n) * time.Second
	}
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiOrDefault(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
