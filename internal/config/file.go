package config

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const configTOMLFileName = "config.toml"

type FileConfig struct {
	Log     LogSection     `toml:"log"`
	Server  ServerSection  `toml:"server"`
	Tasks   TasksSection   `toml:"tasks"`
	Journal JournalSection `toml:"journal"`
	Engine  EngineSection  `toml:"engine"`
}

type LogSection struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerSection struct {
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	AllowedOrigins   []string `toml:"allowed_origins"`
	HeartbeatSeconds int      `toml:"heartbeat_seconds"`
}

type TasksSection struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	SnapshotEvery  int `toml:"snapshot_every"`
	MaxConcurrent  int `toml:"max_concurrent"`
}

type JournalSection struct {
	// DSN is a sqlite path or DSN. Empty keeps the journal in memory.
	DSN string `toml:"dsn"`
}

type EngineSection struct {
	Kind           string   `toml:"kind"`
	DemoDelayMS    int      `toml:"demo_delay_ms"`
	Command        string   `toml:"command,omitempty"`
	CommandArgs    []string `toml:"command_args,omitempty"`
	OpenAIEndpoint string   `toml:"openai_endpoint,omitempty"`
	OpenAIModel    string   `toml:"openai_model,omitempty"`
	Instructions   string   `toml:"instructions,omitempty"`
}

// DefaultConfigDir returns ~/.config/magnus unless MAGNUS_CONFIG_DIR is set.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("MAGNUS_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "magnus"), nil
}

type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Path() string {
	return filepath.Join(s.dir, configTOMLFileName)
}

// LoadOrInit reads config.toml, writing one with defaults on first use.
func (s *FileStore) LoadOrInit() (FileConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return FileConfig{}, err
	}
	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg FileConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return FileConfig{}, err
		}
		return normalizeFile(cfg), nil
	} else if !os.IsNotExist(err) {
		return FileConfig{}, err
	}

	cfg := normalizeFile(FileConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

func (s *FileStore) Save(cfg FileConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), normalizeFile(cfg))
}

func normalizeFile(cfg FileConfig) FileConfig {
	d := defaults()
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = d.LogLevel
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "json", "text":
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	default:
		cfg.Log.Format = d.LogFormat
	}
	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = d.Host
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = d.Port
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = append([]string{}, d.AllowedOrigins...)
	}
	if cfg.Server.HeartbeatSeconds <= 0 {
		cfg.Server.HeartbeatSeconds = int(d.Heartbeat.Seconds())
	}
	if cfg.Tasks.TimeoutSeconds <= 0 {
		cfg.Tasks.TimeoutSeconds = int(d.TaskTimeout.Seconds())
	}
	if cfg.Tasks.SnapshotEvery <= 0 {
		cfg.Tasks.SnapshotEvery = d.SnapshotEvery
	}
	if cfg.Tasks.MaxConcurrent < 0 {
		cfg.Tasks.MaxConcurrent = 0
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Engine.Kind)) {
	case EngineDemo, EngineCommand, EngineOpenAI:
		cfg.Engine.Kind = strings.ToLower(strings.TrimSpace(cfg.Engine.Kind))
	default:
		cfg.Engine.Kind = d.Engine
	}
	if cfg.Engine.DemoDelayMS <= 0 {
		cfg.Engine.DemoDelayMS = int(d.DemoDelay.Milliseconds())
	}
	cfg.Engine.Command = strings.TrimSpace(cfg.Engine.Command)
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
