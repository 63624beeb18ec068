package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serverPort: 9000\nlogLevel: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.ServerPort)
	require.Equal(t, LogLevelDebug, cfg.LogLevel)
}

func TestEnvVarsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serverPort: 9000\n"), 0o644))

	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("OUTPUT_TARGETS", "hb-store")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.ServerPort)
	require.Equal(t, []Target{TargetHBStore}, cfg.OutputTargets)
}

func TestValidateRejectsInvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Default()
	cfg.WatcherPkgPreprocessWorkers = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTarget(t *testing.T) {
	cfg := Default()
	cfg.OutputTargets = []Target{"not-a-target"}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateTarget(t *testing.T) {
	cfg := Default()
	cfg.OutputTargets = []Target{TargetHBStore, TargetHBStore}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsTLSWithoutCertAndKey(t *testing.T) {
	cfg := Default()
	cfg.EnableTLS = true
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsTLSWithCertAndKey(t *testing.T) {
	cfg := Default()
	cfg.EnableTLS = true
	cfg.CertFile = "cert.pem"
	cfg.KeyFile = "key.pem"
	require.NoError(t, cfg.Validate())
}
