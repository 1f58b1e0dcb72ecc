package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/rtkit/internal/config"
)

// captureOutput runs fn with stdout redirected into a buffer and the global
// flags reset afterwards.
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	var out bytes.Buffer
	origOut, origErr := stdout, stderr
	stdout, stderr = &out, &out
	color.NoColor = true
	t.Cleanup(func() {
		stdout, stderr = origOut, origErr
		resetFlags()
	})

	err := fn()
	return out.String(), err
}

func resetFlags() {
	configPath = ""
	verbose = false
	quiet = false
	jsonOut = false
	noColor = false
	cfg = config.Default()
}

// writeFile writes body to name inside a temp dir and returns its path.
func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// decodeJSON unmarshals output into v.
func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(output), v), "output: %s", output)
}
