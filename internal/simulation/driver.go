package simulation

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/roach88/merlin/internal/engine"
	"github.com/roach88/merlin/internal/ir"
	"github.com/roach88/merlin/internal/telemetry"
	"github.com/roach88/merlin/internal/timeline"
)

// Registry resolves activity types to tasks. Implemented by
// missionmodel.Model.
type Registry[W any] interface {
	// NewTask returns the task for one instance of activityType.
	NewTask(activityType string, args ir.ValueMap) (engine.Task[W], error)

	// Daemons lists activity types started once at instant zero.
	Daemons() []string
}

// Sampler converts a cell's state into a sample value. Returning false
// skips the cell.
type Sampler func(cell string, state any) (ir.Value, bool)

// DefaultSampler samples every cell whose state converts with ir.FromAny,
// and falls back to the state's fmt representation.
func DefaultSampler(_ string, state any) (ir.Value, bool) {
	if v, err := ir.FromAny(state); err == nil {
		return v, true
	}
	return ir.String(fmt.Sprint(state)), true
}

// Driver runs plans against one schema and registry. A Driver holds no
// per-run state and may run several plans concurrently.
type Driver[W any] struct {
	schema   *timeline.Schema[W]
	registry Registry[W]
	opts     options
}

type options struct {
	idgen       engine.IDGenerator
	workers     int
	maxAttempts int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	sampler     Sampler
}

// Option configures a Driver.
type Option func(*options)

// WithIDGenerator sets the generator for spawned child ids. The default is
// engine.DerivedGenerator, which keeps ids stable across runs. A generator
// that hands out ids in call order (engine.FixedGenerator) is only
// deterministic with WithWorkers(1).
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.idgen = g
		}
	}
}

// WithWorkers bounds how many tasks of one wave execute in parallel.
// The default is runtime.GOMAXPROCS(0). Results do not depend on it.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMaxAttempts bounds executions per task (default
// engine.DefaultMaxAttempts).
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records driver metrics. Without it nothing is recorded.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSampler sets how cell states become samples (default DefaultSampler).
func WithSampler(s Sampler) Option {
	return func(o *options) {
		if s != nil {
			o.sampler = s
		}
	}
}

// New creates a driver for schema and registry.
func New[W any](schema *timeline.Schema[W], registry Registry[W], opts ...Option) *Driver[W] {
	o := options{
		idgen:       engine.DerivedGenerator{},
		workers:     runtime.GOMAXPROCS(0),
		maxAttempts: engine.DefaultMaxAttempts,
		logger:      slog.Default(),
		sampler:     DefaultSampler,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Driver[W]{schema: schema, registry: registry, opts: o}
}

// Workers returns the worker pool size.
func (d *Driver[W]) Workers() int { return d.opts.workers }

// MaxAttempts returns the per-task attempt limit.
func (d *Driver[W]) MaxAttempts() int { return d.opts.maxAttempts }
