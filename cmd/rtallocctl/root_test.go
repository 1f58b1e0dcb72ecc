package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_LoadsConfig(t *testing.T) {
	t.Cleanup(resetFlags)
	configPath = writeFile(t, "rt.toml", "[allocator]\ncapacity = 77\n")
	require.NoError(t, setup())
	assert.Equal(t, 77, cfg.Allocator.Capacity)
}

func TestSetup_NoConfigUsesDefaults(t *testing.T) {
	t.Cleanup(resetFlags)
	require.NoError(t, setup())
	assert.Equal(t, 1024, cfg.Allocator.Capacity)
}

func TestSetup_MissingConfigFails(t *testing.T) {
	t.Cleanup(resetFlags)
	configPath = filepath.Join(t.TempDir(), "does-not-exist.toml")
	err := setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist.toml")
}

func TestSetup_InvalidConfig(t *testing.T) {
	t.Cleanup(resetFlags)
	configPath = writeFile(t, "rt.toml", "[allocator]\ncapacity = -1\n")
	assert.Error(t, setup())
}

func TestVersionCommand(t *testing.T) {
	out, err := captureOutput(t, func() error {
		rootCmd.SetArgs([]string{"version"})
		return rootCmd.Execute()
	})
	require.NoError(t, err)
	assert.Equal(t, "rtallocctl dev (commit none, built unknown)\n", out)
}

func TestVersionCommand_JSON(t *testing.T) {
	out, err := captureOutput(t, func() error {
		rootCmd.SetArgs([]string{"version", "--json"})
		return rootCmd.Execute()
	})
	require.NoError(t, err)

	var info VersionInfo
	decodeJSON(t, out, &info)
	assert.Equal(t, VersionInfo{Version: "dev", Commit: "none", Built: "unknown"}, info)
}

func TestVersionFlag_MatchesVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "rtallocctl "+version+"\n", out.String())
}
