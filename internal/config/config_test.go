package config

import (
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/rtkit/accel/compute"
)

const workload = `
[allocator]
capacity = 100
max_capacity = 400

[compute]
blas_buffer_initial_bytes = 4096
mapped = true

[log]
enabled = true
level = "debug"

[[op]]
kind = "alloc"
name = "a"
count = 20

[[op]]
kind = "split"
name = "a"
parts = 4

[[op]]
kind = "grow"
capacity = 150

[[op]]
kind = "grow_alloc"
name = "b"
count = 300
max = 350
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(workload))
	require.NoError(t, err)

	assert.Equal(t, AllocatorConfig{Capacity: 100, MaxCapacity: 400}, c.Allocator)
	assert.Equal(t, 4096, c.Compute.BlasBufferInitialBytes)
	assert.Equal(t, compute.DefaultOptions.InitialVertexCount, c.Compute.InitialVertexCount, "unset keys keep defaults")
	assert.True(t, c.Compute.Mapped)
	assert.Equal(t, slog.LevelDebug, c.Level())

	require.Len(t, c.Ops, 4)
	assert.Equal(t, Op{Kind: OpAlloc, Name: "a", Count: 20}, c.Ops[0])
	assert.Equal(t, 4, c.Ops[1].Parts)
	assert.Equal(t, 400, c.MaxFor(c.Ops[2]))
	assert.Equal(t, 350, c.MaxFor(c.Ops[3]))
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, math.MaxInt32, c.Allocator.MaxCapacity)
	assert.False(t, c.LoggerOptions().Enabled)
	assert.Equal(t, slog.LevelInfo, c.LoggerOptions().Level)

	o := c.ComputeOptions()
	assert.Equal(t, compute.DefaultBlasBufferInitialBytes, o.BlasBufferInitialBytes)
	assert.NotNil(t, o.Factory)
}

func TestParse_Invalid(t *testing.T) {
	for name, src := range map[string]string{
		"negative capacity": "[allocator]\ncapacity = -1\n",
		"max below cap":     "[allocator]\ncapacity = 10\nmax_capacity = 5\n",
		"blas too large":    "[compute]\nblas_buffer_initial_bytes = 4294967296\n",
		"negative vertices": "[compute]\ninitial_vertex_count = -3\n",
		"unknown op":        "[[op]]\nkind = \"shrink\"\n",
		"alloc no name":     "[[op]]\nkind = \"alloc\"\ncount = 1\n",
		"alloc zero":        "[[op]]\nkind = \"alloc\"\nname = \"x\"\n",
		"free no name":      "[[op]]\nkind = \"free\"\n",
		"split no parts":    "[[op]]\nkind = \"split\"\nname = \"x\"\n",
		"grow no capacity":  "[[op]]\nkind = \"grow\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestParse_Syntax(t *testing.T) {
	_, err := Parse([]byte("[allocator\n"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "config: parse")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.toml")
	require.NoError(t, os.WriteFile(path, []byte(workload), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Ops, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.toml")
}

func TestLoadOptional(t *testing.T) {
	c, err := LoadOptional("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	_, err = LoadOptional(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[[op]]\nkind = \"nope\"\n"), 0o644))
	_, err = LoadOptional(bad)
	assert.Error(t, err)
}
