package infra

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultConfigFile is read when INFRA_CONFIG is not set.
const DefaultConfigFile = "/etc/infra.conf"

// Config holds the raw KEY=VALUE settings.
type Config struct {
	Values map[string]string
}

// ConfigPath returns the config file to load.
func ConfigPath() string {
	if p := os.Getenv("INFRA_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigFile
}

// LoadConfig reads the config file at path, if it exists, and applies
// INFRA_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	if _, err := os.Stat(path); err == nil {
		values, err := godotenv.Read(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		maps.Copy(cfg.Values, values)
	}

	mergeEnvOverrides(cfg)
	return cfg, nil
}

// Merge INFRA_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		key, val, ok := strings.Cut(env, "=")
		if !ok || val == "" {
			continue
		}
		if strings.HasPrefix(key, "INFRA_") || key == "GNU_MIRROR" {
			cfg.Values[key] = val
		}
	}
}

// Settings is the typed view of a Config.
type Settings struct {
	Root         string
	PatchDir     string
	Setup        string
	Jobs         int
	Debug        bool
	IdlePriority bool
	GNUMirror    string
	Mirror       MirrorConfig
}

// Settings validates the raw values and fills in defaults.
func (c *Config) Settings() (Settings, error) {
	s := Settings{
		Root:         c.Values["INFRA_ROOT"],
		PatchDir:     c.Values["INFRA_PATCH_DIR"],
		Setup:        c.Values["INFRA_SETUP"],
		Jobs:         runtime.NumCPU(),
		Debug:        c.Values["INFRA_DEBUG"] == "1",
		IdlePriority: c.Values["INFRA_IDLE_PRIORITY"] == "1",
		GNUMirror:    strings.TrimRight(c.Values["GNU_MIRROR"], "/"),
		Mirror: MirrorConfig{
			Bucket:    c.Values["INFRA_MIRROR_BUCKET"],
			Endpoint:  c.Values["INFRA_MIRROR_ENDPOINT"],
			Region:    c.Values["INFRA_MIRROR_REGION"],
			AccessKey: c.Values["INFRA_MIRROR_ACCESS_KEY"],
			SecretKey: c.Values["INFRA_MIRROR_SECRET_KEY"],
		},
	}

	if s.Root == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return s, fmt.Errorf("INFRA_ROOT is not set and there is no user cache dir: %w", err)
		}
		s.Root = filepath.Join(cache, "infra")
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return s, err
	}
	s.Root = root

	if v := c.Values["INFRA_JOBS"]; v != "" {
		jobs, err := strconv.Atoi(v)
		if err != nil || jobs < 1 {
			return s, fmt.Errorf("INFRA_JOBS must be a positive integer, got %q", v)
		}
		s.Jobs = jobs
	}
	return s, nil
}
