package main

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/joshuapare/rtkit/accel/alloc"
)

var (
	fuzzSeed     int64
	fuzzOps      int
	fuzzCapacity int
	fuzzMaxCount int
)

func init() {
	cmd := newFuzzCmd()
	cmd.Flags().Int64Var(&fuzzSeed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&fuzzOps, "ops", 10000, "Number of random operations")
	cmd.Flags().IntVar(&fuzzCapacity, "capacity", 0, "Initial capacity (default from config)")
	cmd.Flags().IntVar(&fuzzMaxCount, "max-count", 64, "Largest single request")
	rootCmd.AddCommand(cmd)
}

func newFuzzCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fuzz",
		Short: "Run random allocator operations with invariant checks",
		Long: `The fuzz command mixes Allocate, FreeAllocation, Grow, GrowAndAllocate and
SplitAllocation at random and validates the allocator after every step. The
run is reproducible from its seed.

Example:
  rtallocctl fuzz --seed 42 --ops 100000
  rtallocctl fuzz --capacity 16 --max-count 8 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz()
		},
	}
}

// FuzzResult is the JSON form of a fuzz run.
type FuzzResult struct {
	Seed            int64       `json:"seed"`
	Ops             int         `json:"ops"`
	Capacity        int         `json:"capacity"`
	Live            int         `json:"live"`
	FreeElements    int         `json:"free_elements"`
	DroppedElements int         `json:"dropped_elements"`
	Stats           alloc.Stats `json:"stats"`
}

func runFuzz() error {
	capacity := fuzzCapacity
	if capacity <= 0 {
		capacity = cfg.Allocator.Capacity
	}
	ba, live, err := fuzz(fuzzSeed, fuzzOps, capacity, fuzzMaxCount, cfg.Allocator.MaxCapacity)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(FuzzResult{
			Seed:            fuzzSeed,
			Ops:             fuzzOps,
			Capacity:        ba.Capacity(),
			Live:            live,
			FreeElements:    ba.FreeElements(),
			DroppedElements: ba.DroppedElements(),
			Stats:           ba.Stats(),
		})
	}

	printInfo("seed %d: %d ops, invariants %s\n\n", fuzzSeed, fuzzOps, status(true))
	if !quiet {
		ba.WriteStats(stdout)
	}
	return nil
}

// fuzz runs ops random operations and returns the allocator with the number of
// allocations still live.
func fuzz(seed int64, ops, capacity, maxCount, maxCapacity int) (*alloc.BlockAllocator, int, error) {
	if maxCount <= 0 {
		return nil, 0, errors.Errorf("max-count %d must be positive", maxCount)
	}
	r := rand.New(rand.NewSource(seed))
	ba := alloc.New(capacity)
	var live []alloc.Allocation

	take := func(i int) alloc.Allocation {
		a := live[i]
		live[i] = live[len(live)-1]
		live = live[:len(live)-1]
		return a
	}

	for i := range ops {
		switch p := r.Intn(100); {
		case p < 40:
			if a := ba.Allocate(1 + r.Intn(maxCount)); a.Valid() {
				live = append(live, a)
			}
		case p < 75:
			if len(live) > 0 {
				ba.FreeAllocation(take(r.Intn(len(live))))
			}
		case p < 85:
			a, _, _ := ba.GrowAndAllocate(1+r.Intn(maxCount), maxCapacity)
			if a.Valid() {
				live = append(live, a)
			}
		case p < 90:
			ba.Grow(ba.Capacity()+r.Intn(maxCount), maxCapacity)
		default:
			if len(live) > 0 {
				a := take(r.Intn(len(live)))
				live = append(live, ba.SplitAllocation(a, 1+r.Intn(a.Block.Count))...)
			}
		}
		if err := ba.Validate(); err != nil {
			return nil, 0, errors.Wrapf(err, "seed %d, op %d", seed, i)
		}
	}
	return ba, len(live), nil
}
