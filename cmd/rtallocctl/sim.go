package main

import (
	"math/rand"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/joshuapare/rtkit/accel"
	"github.com/joshuapare/rtkit/accel/compute"
	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/accel/types"
)

var (
	simSeed      int64
	simMeshes    int
	simInstances int
	simMaxVerts  int
	simRounds    int
)

func init() {
	cmd := newSimCmd()
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&simMeshes, "meshes", 16, "Distinct meshes in the scene")
	cmd.Flags().IntVar(&simInstances, "instances", 128, "Instances added per round")
	cmd.Flags().IntVar(&simMaxVerts, "max-vertices", 256, "Largest mesh vertex count")
	cmd.Flags().IntVar(&simRounds, "rounds", 4, "Add/build/remove rounds")
	rootCmd.AddCommand(cmd)
}

func newSimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sim",
		Short: "Simulate a scene on the compute backend and report buffer usage",
		Long: `The sim command builds a compute-backend acceleration structure over random
meshes. Each round adds instances, builds, then removes about half of them so
the node, leaf and positions buffers see churn.

Example:
  rtallocctl sim --meshes 32 --instances 1000
  rtallocctl sim --seed 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim()
		},
	}
}

// SimResult is the JSON form of a simulation.
type SimResult struct {
	Seed       int64                 `json:"seed"`
	Rounds     int                   `json:"rounds"`
	Instances  int                   `json:"instances"`
	Blases     int                   `json:"blases"`
	ScratchMax uint64                `json:"scratch_max_bytes"`
	Buffers    []compute.BufferUsage `json:"buffers"`
}

func runSim() error {
	res, err := simulate(simSeed, simMeshes, simInstances, simMaxVerts, simRounds)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}

	printInfo("%s seed %d, %d rounds: %d instances over %d BLASes\n",
		bold("compute backend"), res.Seed, res.Rounds, res.Instances, res.Blases)
	printInfo("largest scratch: %s\n\n", humanize.Bytes(res.ScratchMax))
	printInfo("%-14s %12s %12s %10s %8s\n", "BUFFER", "CAPACITY", "FREE", "SIZE", "FRAG")
	for _, u := range res.Buffers {
		printInfo("%-14s %12s %12s %10s %7.1f%%\n",
			u.Name,
			humanize.Comma(int64(u.Capacity)),
			humanize.Comma(int64(u.Free)),
			humanize.Bytes(uint64(u.Bytes)),
			100*u.Fragmentation)
	}
	return nil
}

func simulate(seed int64, meshes, instances, maxVerts, rounds int) (res SimResult, err error) {
	if meshes <= 0 || instances < 0 || maxVerts < 3 || rounds <= 0 {
		return res, errors.Errorf("bad simulation size: meshes=%d instances=%d max-vertices=%d rounds=%d",
			meshes, instances, maxVerts, rounds)
	}
	r := rand.New(rand.NewSource(seed))

	ctx, err := accel.NewContext(accel.Compute, &accel.Options{Compute: cfg.ComputeOptions()})
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := ctx.Close(); err == nil {
			err = cerr
		}
	}()

	as, err := ctx.CreateAccelerationStructure(accel.AccelStructOptions{BuildFlags: types.PreferFastTrace})
	if err != nil {
		return res, err
	}
	defer as.Close()

	scene := make([]*accel.Mesh, 0, meshes)
	defer func() {
		for _, m := range scene {
			m.Vertices.Close()
		}
	}()
	for i := range meshes {
		m, err := randomMesh(r, i, 3+r.Intn(maxVerts-2))
		if err != nil {
			return res, err
		}
		scene = append(scene, m)
	}

	var scratch gpubuf.Buffer
	defer func() {
		if scratch != nil {
			scratch.Close()
		}
	}()

	var handles []int
	for round := range rounds {
		for range instances {
			desc := accel.NewMeshInstanceDesc(scene[r.Intn(len(scene))], 0)
			desc.Transform[0][3] = float32(r.Intn(1000))
			h, err := as.AddInstance(desc)
			if err != nil {
				return res, errors.Wrapf(err, "round %d", round)
			}
			handles = append(handles, h)
		}

		res.ScratchMax = max(res.ScratchMax, as.ScratchSizeBytes())
		if err := ctx.ResizeScratchBuffer(as, &scratch); err != nil {
			return res, err
		}
		if err := as.Build(scratch); err != nil {
			return res, errors.Wrapf(err, "build round %d", round)
		}
		printVerbose("round %d: %d instances built\n", round, as.InstanceCount())

		if round == rounds-1 {
			break
		}
		r.Shuffle(len(handles), func(i, j int) { handles[i], handles[j] = handles[j], handles[i] })
		keep := len(handles) / 2
		for _, h := range handles[keep:] {
			if err := as.RemoveInstance(h); err != nil {
				return res, err
			}
		}
		handles = handles[:keep]
	}

	cas := as.(*compute.AccelStruct)
	res.Seed = seed
	res.Rounds = rounds
	res.Instances = cas.InstanceCount()
	res.Blases = cas.BlasCount()
	res.Buffers = cas.Usage()
	return res, nil
}

// randomMesh returns a triangle fan of verts jittered vertices.
func randomMesh(r *rand.Rand, id, verts int) (*accel.Mesh, error) {
	vb, err := gpubuf.NewHost(verts*3, 4)
	if err != nil {
		return nil, err
	}
	pos := make([]float32, verts*3)
	for i := range pos {
		pos[i] = r.Float32()*10 - 5
	}
	if err := gpubuf.PutFloat32s(vb, 0, pos); err != nil {
		vb.Close()
		return nil, err
	}
	return &accel.Mesh{
		ID:           id,
		Vertices:     vb,
		VertexStride: 3,
		SubMeshes:    []accel.SubMesh{{IndexCount: (verts - 2) * 3, VertexCount: verts}},
	}, nil
}
