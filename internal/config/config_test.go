package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "./data/nnfit.db", cfg.Database.Path)
	assert.Equal(t, "./c_engine/nnfit", cfg.Engine.Executable)
	assert.Equal(t, "./data/config.ini", cfg.Engine.ConfigFile)
	assert.Equal(t, "./data/config_1st.ini", cfg.Engine.BootstrapConfig)
	assert.Equal(t, 10*time.Minute, cfg.Engine.Timeout)
	assert.Equal(t, "make", cfg.Engine.BuildTool)
	assert.False(t, cfg.Engine.AllowNonZeroExit)
	assert.Equal(t, 30, cfg.Experiments.Count)
	assert.Equal(t, 1.0, cfg.Experiments.WeightBound)
	assert.Equal(t, 1.0, cfg.Experiments.BiasBound)
	assert.Equal(t, 40, cfg.Experiments.TestSize)
	assert.Equal(t, 1.0, cfg.Experiments.XExtreme)
	assert.False(t, cfg.Experiments.ContinueOnError)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("NNFIT_DATA", "/var/lib/nnfit")

	cfg, err := LoadConfig(writeConfig(t, `
server:
  port: "9000"
database:
  type: postgres
  path: postgres://nnfit@localhost/nnfit?sslmode=disable
engine:
  executable: ${NNFIT_DATA}/bin/nnfit
  config_file: ${NNFIT_DATA}/config.ini
  timeout: 90s
  compile: true
  allow_nonzero_exit: true
experiments:
  count: 5
  weight_bound: 0.5
  test_size: 10
  seed: 42
  continue_on_error: true
`))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "/var/lib/nnfit/bin/nnfit", cfg.Engine.Executable)
	assert.Equal(t, "/var/lib/nnfit/config.ini", cfg.Engine.ConfigFile)
	assert.Equal(t, 90*time.Second, cfg.Engine.Timeout)
	assert.True(t, cfg.Engine.Compile)
	assert.True(t, cfg.Engine.AllowNonZeroExit)
	assert.Equal(t, 5, cfg.Experiments.Count)
	assert.Equal(t, 0.5, cfg.Experiments.WeightBound)
	assert.Equal(t, 1.0, cfg.Experiments.BiasBound)
	assert.Equal(t, 10, cfg.Experiments.TestSize)
	assert.Equal(t, uint64(42), cfg.Experiments.Seed)
	assert.True(t, cfg.Experiments.ContinueOnError)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "experiments:\n  epochs: 3\n"},
		{"bad type", "experiments:\n  count: many\n"},
		{"bad database", "database:\n  type: mysql\n"},
		{"negative count", "experiments:\n  count: -1\n"},
		{"negative bound", "experiments:\n  bias_bound: -0.5\n"},
		{"negative timeout", "engine:\n  timeout: -1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	// the default path may be absent
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := LoadConfig(DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Experiments.Count)
}
