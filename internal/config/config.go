// Package config loads rtkit tool configuration and allocator workload scripts
// from TOML.
//
//	[allocator]
//	capacity = 1024
//	max_capacity = 2147483647
//
//	[compute]
//	blas_buffer_initial_bytes = 67108864
//	initial_vertex_count = 1000
//	mapped = false
//
//	[log]
//	enabled = true
//	level = "debug"
//	json = false
//
//	[[op]]
//	kind = "alloc"
//	name = "a"
//	count = 20
//
// Op kinds: alloc (name, count), free (name), grow (capacity, max),
// grow_alloc (name, count, max), split (name, parts), validate.
package config

import (
	"log/slog"
	"math"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/joshuapare/rtkit/accel/compute"
	"github.com/joshuapare/rtkit/accel/gpubuf"
	"github.com/joshuapare/rtkit/internal/logger"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Op kinds.
const (
	OpAlloc     = "alloc"
	OpFree      = "free"
	OpGrow      = "grow"
	OpGrowAlloc = "grow_alloc"
	OpSplit     = "split"
	OpValidate  = "validate"
)

// Config is the top-level file format.
type Config struct {
	Allocator AllocatorConfig `toml:"allocator"`
	Compute   ComputeConfig   `toml:"compute"`
	Log       LogConfig       `toml:"log"`
	Ops       []Op            `toml:"op"`
}

// AllocatorConfig sizes the allocator a workload runs against.
type AllocatorConfig struct {
	Capacity    int `toml:"capacity"`
	MaxCapacity int `toml:"max_capacity"`
}

// ComputeConfig configures compute-backend acceleration structures.
type ComputeConfig struct {
	BlasBufferInitialBytes int  `toml:"blas_buffer_initial_bytes"`
	InitialVertexCount     int  `toml:"initial_vertex_count"`
	Mapped                 bool `toml:"mapped"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	JSON    bool   `toml:"json"`
}

// Op is one workload step.
type Op struct {
	Kind     string `toml:"kind"`
	Name     string `toml:"name"`
	Count    int    `toml:"count"`
	Capacity int    `toml:"capacity"`
	Max      int    `toml:"max"`
	Parts    int    `toml:"parts"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Allocator: AllocatorConfig{
			Capacity:    1024,
			MaxCapacity: math.MaxInt32,
		},
		Compute: ComputeConfig{
			BlasBufferInitialBytes: compute.DefaultBlasBufferInitialBytes,
			InitialVertexCount:     compute.DefaultOptions.InitialVertexCount,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Parse decodes raw over Default() and validates the result.
func Parse(raw []byte) (Config, error) {
	c := Default()
	if err := toml.Unmarshal(raw, &c); err != nil {
		return Config{}, errors.Wrap(err, "config: parse")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	c, err := Parse(raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: %s", path)
	}
	return c, nil
}

// LoadOptional is Load, except that an empty path yields Default(). A path that
// does not exist is an error.
func LoadOptional(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks field ranges and op shapes.
func (c Config) Validate() error {
	if c.Allocator.Capacity < 0 {
		return errors.Wrapf(ErrInvalid, "allocator.capacity %d is negative", c.Allocator.Capacity)
	}
	if c.Allocator.MaxCapacity < c.Allocator.Capacity {
		return errors.Wrapf(ErrInvalid, "allocator.max_capacity %d is below capacity %d",
			c.Allocator.MaxCapacity, c.Allocator.Capacity)
	}
	if c.Compute.BlasBufferInitialBytes < 0 || c.Compute.BlasBufferInitialBytes > gpubuf.MaxBufferBytes {
		return errors.Wrapf(ErrInvalid, "compute.blas_buffer_initial_bytes %d out of range",
			c.Compute.BlasBufferInitialBytes)
	}
	if c.Compute.InitialVertexCount < 0 {
		return errors.Wrapf(ErrInvalid, "compute.initial_vertex_count %d is negative",
			c.Compute.InitialVertexCount)
	}
	for i, op := range c.Ops {
		if err := op.validate(); err != nil {
			return errors.Wrapf(err, "op %d", i)
		}
	}
	return nil
}

func (op Op) validate() error {
	needName := func() error {
		if op.Name == "" {
			return errors.Wrapf(ErrInvalid, "%s needs a name", op.Kind)
		}
		return nil
	}
	switch op.Kind {
	case OpAlloc, OpGrowAlloc:
		if op.Count <= 0 {
			return errors.Wrapf(ErrInvalid, "%s count %d must be positive", op.Kind, op.Count)
		}
		return needName()
	case OpFree:
		return needName()
	case OpSplit:
		if op.Parts <= 0 {
			return errors.Wrapf(ErrInvalid, "split parts %d must be positive", op.Parts)
		}
		return needName()
	case OpGrow:
		if op.Capacity <= 0 {
			return errors.Wrapf(ErrInvalid, "grow capacity %d must be positive", op.Capacity)
		}
		return nil
	case OpValidate:
		return nil
	default:
		return errors.Wrapf(ErrInvalid, "unknown op kind %q", op.Kind)
	}
}

// MaxFor returns op.Max, or the allocator limit when op.Max is unset.
func (c Config) MaxFor(op Op) int {
	if op.Max > 0 {
		return op.Max
	}
	return c.Allocator.MaxCapacity
}

// ComputeOptions converts the [compute] table.
func (c Config) ComputeOptions() *compute.Options {
	return &compute.Options{
		BlasBufferInitialBytes: c.Compute.BlasBufferInitialBytes,
		InitialVertexCount:     c.Compute.InitialVertexCount,
		Factory:                gpubuf.FactoryFor(c.Compute.Mapped),
	}
}

// LoggerOptions converts the [log] table.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{
		Enabled: c.Log.Enabled,
		Level:   logger.ParseLevel(c.Log.Level),
		JSON:    c.Log.JSON,
	}
}

// Level returns the configured log level.
func (c Config) Level() slog.Level { return logger.ParseLevel(c.Log.Level) }
