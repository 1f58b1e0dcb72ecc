package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/rtkit/accel/alloc"
	"github.com/joshuapare/rtkit/internal/config"
)

const replayWorkload = `
[allocator]
capacity = 100
max_capacity = 400

[[op]]
kind = "alloc"
name = "a"
count = 20

[[op]]
kind = "alloc"
name = "b"
count = 30

[[op]]
kind = "free"
name = "a"

[[op]]
kind = "alloc"
name = "c"
count = 10

[[op]]
kind = "split"
name = "b"
parts = 3

[[op]]
kind = "grow"
capacity = 150

[[op]]
kind = "grow_alloc"
name = "d"
count = 120

[[op]]
kind = "validate"
`

func TestReplay(t *testing.T) {
	w, err := config.Parse([]byte(replayWorkload))
	require.NoError(t, err)

	ba, live, err := replay(w)
	require.NoError(t, err)

	// c reuses the hole a left behind.
	assert.Equal(t, alloc.Allocation{Handle: 0, Block: alloc.Block{Offset: 0, Count: 10}}, live["c"])
	assert.Equal(t, alloc.Block{Offset: 20, Count: 10}, live["b.0"].Block)
	assert.Equal(t, alloc.Block{Offset: 30, Count: 10}, live["b.1"].Block)
	assert.Equal(t, alloc.Block{Offset: 40, Count: 10}, live["b.2"].Block)
	assert.NotContains(t, live, "a")
	assert.NotContains(t, live, "b")

	// d extends the free tail that began at 50.
	assert.Equal(t, 50, live["d"].Block.Offset)
	assert.GreaterOrEqual(t, ba.Capacity(), 170)
	assert.LessOrEqual(t, ba.Capacity(), 400)
	assert.Equal(t, 0, ba.Stats().AllocFailures)
}

func TestReplay_FailedAllocationIsCounted(t *testing.T) {
	w := config.Default()
	w.Allocator.Capacity = 8
	w.Ops = []config.Op{
		{Kind: config.OpAlloc, Name: "big", Count: 9},
		{Kind: config.OpAlloc, Name: "small", Count: 8},
	}
	ba, live, err := replay(w)
	require.NoError(t, err)
	assert.Equal(t, 1, ba.Stats().AllocFailures)
	assert.NotContains(t, live, "big")
	assert.Contains(t, live, "small")
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name string
		ops  []config.Op
		want string
	}{
		{
			name: "free unknown",
			ops:  []config.Op{{Kind: config.OpFree, Name: "x"}},
			want: `"x" is not live`,
		},
		{
			name: "double free",
			ops: []config.Op{
				{Kind: config.OpAlloc, Name: "x", Count: 4},
				{Kind: config.OpFree, Name: "x"},
				{Kind: config.OpFree, Name: "x"},
			},
			want: "op 2 (free)",
		},
		{
			name: "duplicate name",
			ops: []config.Op{
				{Kind: config.OpAlloc, Name: "x", Count: 4},
				{Kind: config.OpAlloc, Name: "x", Count: 4},
			},
			want: "already live",
		},
		{
			name: "split onto live name",
			ops: []config.Op{
				{Kind: config.OpAlloc, Name: "x", Count: 4},
				{Kind: config.OpAlloc, Name: "x.1", Count: 4},
				{Kind: config.OpSplit, Name: "x", Parts: 2},
			},
			want: `"x.1" is already live`,
		},
		{
			name: "split too fine",
			ops: []config.Op{
				{Kind: config.OpAlloc, Name: "x", Count: 2},
				{Kind: config.OpSplit, Name: "x", Parts: 3},
			},
			want: "into 3 parts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := config.Default()
			w.Ops = tt.ops
			_, _, err := replay(w)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplayCommand(t *testing.T) {
	path := writeFile(t, "w.toml", replayWorkload)

	out, err := captureOutput(t, func() error { return runReplay([]string{path}) })
	require.NoError(t, err)
	assert.Contains(t, out, "8 ops replayed, invariants ok")
	assert.Contains(t, out, "=== BLOCK ALLOCATOR ===")
	assert.Contains(t, out, "Split allocations:  1")
	assert.Contains(t, out, "b.2")
}

func TestReplayCommand_JSON(t *testing.T) {
	path := writeFile(t, "w.toml", replayWorkload)

	out, err := captureOutput(t, func() error {
		jsonOut = true
		return runReplay([]string{path})
	})
	require.NoError(t, err)

	var res ReplayResult
	decodeJSON(t, out, &res)
	assert.Equal(t, 8, res.Ops)
	assert.Len(t, res.Live, 5)
	assert.Equal(t, alloc.Block{Offset: 0, Count: 10}, res.Live["c"])
	assert.Equal(t, 1, res.Stats.SplitAllocations)
}

func TestReplayCommand_BadFile(t *testing.T) {
	path := writeFile(t, "bad.toml", "[[op]]\nkind = \"shrink\"\n")
	_, err := captureOutput(t, func() error { return runReplay([]string{path}) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shrink")
}
