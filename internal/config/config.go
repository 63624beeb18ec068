// Package config loads and validates this service's bootstrap
// configuration: a YAML file, overridable by environment variables, read
// once at startup and validated before anything else runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"
)

// Target names an enabled output exporter.
type Target string

const (
	TargetHBStore Target = "hb-store"
	TargetFPKGi   Target = "fpkgi"
)

var validTargets = map[Target]bool{TargetHBStore: true, TargetFPKGi: true}

// LogLevel is the closed set of accepted log levels.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

var validLogLevels = map[LogLevel]bool{
	LogLevelDebug: true, LogLevelInfo: true, LogLevelWarning: true, LogLevelError: true,
}

// Config is the full set of values read once at startup.
type Config struct {
	DataDir string `json:"dataDir"`

	ServerIP   string `json:"serverIP"`
	ServerPort int    `json:"serverPort"`
	EnableTLS  bool   `json:"enableTLS"`
	CertFile   string `json:"certFile"`
	KeyFile    string `json:"keyFile"`

	LogLevel LogLevel `json:"logLevel"`

	WatcherPeriodicScanSeconds  int    `json:"watcherPeriodicScanSeconds"`
	WatcherCronExpression       string `json:"watcherCronExpression"`
	WatcherPkgPreprocessWorkers int    `json:"watcherPkgPreprocessWorkers"`

	PkgtoolPath           string `json:"pkgtoolPath"`
	PkgtoolTimeoutSeconds int    `json:"pkgtoolTimeoutSeconds"`

	OutputTargets []Target `json:"outputTargets"`

	BaseURL string `json:"baseURL"`
}

// Default returns a Config with every documented default applied.
func Default() Config {
	return Config{
		DataDir:                     "data",
		ServerIP:                    "127.0.0.1",
		ServerPort:                  18191,
		LogLevel:                    LogLevelInfo,
		WatcherPeriodicScanSeconds:  30,
		WatcherPkgPreprocessWorkers: 4,
		PkgtoolPath:                 "pkgtool",
		PkgtoolTimeoutSeconds:       300,
		OutputTargets:               []Target{TargetHBStore, TargetFPKGi},
		BaseURL:                     "http://127.0.0.1:18191",
	}
}

// Load reads path (if non-empty and present) over Default(), then applies
// environment variable overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// absent file is not an error: defaults + env vars still apply.
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SERVER_IP"); ok {
		cfg.ServerIP = v
	}
	if v, ok := os.LookupEnv("SERVER_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ServerPort = n
		}
	}
	if v, ok := os.LookupEnv("ENABLE_TLS"); ok {
		cfg.EnableTLS = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := os.LookupEnv("WATCHER_PERIODIC_SCAN_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WatcherPeriodicScanSeconds = n
		}
	}
	if v, ok := os.LookupEnv("WATCHER_CRON_EXPRESSION"); ok {
		cfg.WatcherCronExpression = v
	}
	if v, ok := os.LookupEnv("WATCHER_PKG_PREPROCESS_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WatcherPkgPreprocessWorkers = n
		}
	}
	if v, ok := os.LookupEnv("PKGTOOL_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PkgtoolTimeoutSeconds = n
		}
	}
	if v, ok := os.LookupEnv("OUTPUT_TARGETS"); ok {
		cfg.OutputTargets = parseTargets(v)
	}
}

func parseTargets(v string) []Target {
	var targets []Target
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			targets = append(targets, Target(part))
		}
	}
	return targets
}

// Validate enforces every numeric-bound and closed-set invariant this
// config is expected to satisfy.
func (c Config) Validate() error {
	if c.WatcherPeriodicScanSeconds < 1 {
		return fmt.Errorf("watcherPeriodicScanSeconds must be >= 1, got %d", c.WatcherPeriodicScanSeconds)
	}
	if c.WatcherPkgPreprocessWorkers < 1 {
		return fmt.Errorf("watcherPkgPreprocessWorkers must be >= 1, got %d", c.WatcherPkgPreprocessWorkers)
	}
	if c.PkgtoolTimeoutSeconds < 1 {
		return fmt.Errorf("pkgtoolTimeoutSeconds must be >= 1, got %d", c.PkgtoolTimeoutSeconds)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("logLevel must be one of debug, info, warning, error, got %q", c.LogLevel)
	}
	if len(c.OutputTargets) == 0 {
		return fmt.Errorf("outputTargets must not be empty")
	}
	seen := make(map[Target]bool, len(c.OutputTargets))
	for _, t := range c.OutputTargets {
		if !validTargets[t] {
			return fmt.Errorf("outputTargets: unknown target %q", t)
		}
		if seen[t] {
			return fmt.Errorf("outputTargets: duplicate target %q", t)
		}
		seen[t] = true
	}
	if c.EnableTLS && (c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("enableTLS requires both certFile and keyFile")
	}
	return nil
}
