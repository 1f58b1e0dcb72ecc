package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/joshuapare/rtkit/accel/alloc"
	"github.com/joshuapare/rtkit/internal/config"
)

func init() {
	rootCmd.AddCommand(newReplayCmd())
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <workload.toml>",
		Short: "Replay a scripted allocator workload",
		Long: `The replay command runs the [[op]] entries of a workload file against a
fresh allocator sized by its [allocator] table. The allocator invariants are
checked after every op.

Example:
  rtallocctl replay workload.toml
  rtallocctl replay workload.toml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args)
		},
	}
}

// ReplayResult is the JSON form of a replay.
type ReplayResult struct {
	Workload        string                 `json:"workload"`
	Ops             int                    `json:"ops"`
	Failed          int                    `json:"failed_allocations"`
	Capacity        int                    `json:"capacity"`
	FreeElements    int                    `json:"free_elements"`
	FreeBlocks      int                    `json:"free_blocks"`
	DroppedElements int                    `json:"dropped_elements"`
	Fragmentation   float64                `json:"fragmentation"`
	Live            map[string]alloc.Block `json:"live"`
	Stats           alloc.Stats            `json:"stats"`
}

func runReplay(args []string) error {
	path := args[0]
	printVerbose("Loading workload: %s\n", path)

	w, err := config.Load(path)
	if err != nil {
		return err
	}

	ba, live, err := replay(w)
	if err != nil {
		return errors.Wrapf(err, "replay %s", path)
	}

	if jsonOut {
		res := ReplayResult{
			Workload:        path,
			Ops:             len(w.Ops),
			Failed:          ba.Stats().AllocFailures,
			Capacity:        ba.Capacity(),
			FreeElements:    ba.FreeElements(),
			FreeBlocks:      ba.FreeBlockCount(),
			DroppedElements: ba.DroppedElements(),
			Fragmentation:   ba.Fragmentation(),
			Live:            make(map[string]alloc.Block, len(live)),
			Stats:           ba.Stats(),
		}
		for name, a := range live {
			res.Live[name] = a.Block
		}
		return printJSON(res)
	}

	printInfo("%s %d ops replayed, invariants %s\n\n", bold(path), len(w.Ops), status(true))
	if !quiet {
		ba.WriteStats(stdout)
		if len(live) > 0 {
			printInfo("\nLive allocations:\n")
			for _, name := range slices.Sorted(maps.Keys(live)) {
				b := live[name].Block
				printInfo("  %-12s [%d, %d)\n", name, b.Offset, b.End())
			}
		}
	}
	return nil
}

// replay runs w.Ops against a new allocator. Named allocations that are still
// live at the end are returned. Allocation failures are counted, not fatal.
func replay(w config.Config) (*alloc.BlockAllocator, map[string]alloc.Allocation, error) {
	ba := alloc.New(w.Allocator.Capacity)
	live := make(map[string]alloc.Allocation)

	for i, op := range w.Ops {
		if err := apply(ba, live, w, op); err != nil {
			return nil, nil, errors.Wrapf(err, "op %d (%s)", i, op.Kind)
		}
		if err := ba.Validate(); err != nil {
			return nil, nil, errors.Wrapf(err, "after op %d (%s)", i, op.Kind)
		}
	}
	return ba, live, nil
}

func apply(ba *alloc.BlockAllocator, live map[string]alloc.Allocation, w config.Config, op config.Op) error {
	switch op.Kind {
	case config.OpAlloc, config.OpGrowAlloc:
		if _, ok := live[op.Name]; ok {
			return errors.Errorf("%q is already live", op.Name)
		}
		var a alloc.Allocation
		if op.Kind == config.OpAlloc {
			a = ba.Allocate(op.Count)
		} else {
			var oldCap, newCap int
			a, oldCap, newCap = ba.GrowAndAllocate(op.Count, w.MaxFor(op))
			if newCap > oldCap {
				printVerbose("  grew %d -> %d\n", oldCap, newCap)
			}
		}
		if !a.Valid() {
			printVerbose("  %s %s(%d): %s\n", op.Kind, op.Name, op.Count, red("failed"))
			return nil
		}
		live[op.Name] = a
		printVerbose("  %s %s(%d) -> handle %d [%d, %d)\n",
			op.Kind, op.Name, op.Count, a.Handle, a.Block.Offset, a.Block.End())

	case config.OpFree:
		a, ok := live[op.Name]
		if !ok {
			return errors.Errorf("%q is not live", op.Name)
		}
		ba.FreeAllocation(a)
		delete(live, op.Name)
		printVerbose("  free %s\n", op.Name)

	case config.OpGrow:
		got := ba.Grow(op.Capacity, w.MaxFor(op))
		printVerbose("  grow %d -> %d\n", op.Capacity, got)

	case config.OpSplit:
		a, ok := live[op.Name]
		if !ok {
			return errors.Errorf("%q is not live", op.Name)
		}
		if op.Parts > a.Block.Count {
			return errors.Errorf("cannot split %q (%d elements) into %d parts",
				op.Name, a.Block.Count, op.Parts)
		}
		names := make([]string, op.Parts)
		for j := range names {
			names[j] = fmt.Sprintf("%s.%d", op.Name, j)
			if _, taken := live[names[j]]; taken {
				return errors.Errorf("cannot split %q: %q is already live", op.Name, names[j])
			}
		}
		delete(live, op.Name)
		for j, part := range ba.SplitAllocation(a, op.Parts) {
			live[names[j]] = part
		}
		printVerbose("  split %s into %d\n", op.Name, op.Parts)

	case config.OpValidate:
		// Validation runs after every op.
	}
	return nil
}
