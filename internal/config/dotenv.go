package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads dir/.env and then dir/.env.<env>. Variables already set
// in the process win over both files; .env.<env> wins over .env. Missing
// files are skipped. It returns the files that were loaded.
func LoadDotEnv(dir, env string) []string {
	preset := map[string]struct{}{}
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		preset[k] = struct{}{}
	}

	loaded := []string{}
	base := filepath.Join(dir, ".env")
	if fileExists(base) && godotenv.Load(base) == nil {
		loaded = append(loaded, base)
	}
	env = strings.TrimSpace(env)
	if env == "" {
		return loaded
	}
	overlay := filepath.Join(dir, ".env."+env)
	if !fileExists(overlay) {
		return loaded
	}
	vars, err := godotenv.Read(overlay)
	if err != nil {
		return loaded
	}
	for k, v := range vars {
		if _, ok := preset[k]; ok {
			continue
		}
		_ = os.Setenv(k, v)
	}
	return append(loaded, overlay)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
