package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmcagent/internal/config"
)

func TestConfigInit_WritesLoadableDefaults(t *testing.T) {
	out := filepath.Join(t.TempDir(), "configs", "config.yaml")
	t.Cleanup(func() { configForce = false })

	rootCmd.SetArgs([]string{"config", "init", "-o", out})
	require.NoError(t, rootCmd.Execute())

	cfg, err := config.LoadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTelemetryServerURL, cfg.Telemetry.ServerURL)

	rootCmd.SetArgs([]string{"config", "init", "-o", out})
	assert.Error(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"config", "init", "-o", out, "--force"})
	assert.NoError(t, rootCmd.Execute())
}

func TestFormatDeployTime(t *testing.T) {
	assert.Equal(t, "(not provisioned)", formatDeployTime(nil, false))
	assert.Equal(t, "2024-01-01", formatDeployTime("2024-01-01", true))
	assert.Contains(t, formatDeployTime(1700000000.0, true), "1.7e+09")
	assert.Equal(t, "(none)", valueOrNone("", false))
	assert.Equal(t, "abc", valueOrNone("abc", true))
}
