// Package kernel wires the storage kernel's process-scoped structures — the
// Byteable decoder Registry, the Composite Interner, the structured logger,
// and local configuration — into one Instance, opened once per caller and
// torn down at shutdown. Per spec.md §9's design note on "global caches":
// none of these live as package-level state, so two Instances (e.g. across
// parallel tests) never share or leak cached state.
package kernel

import (
	"context"

	"go.uber.org/zap"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/keys"
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/klog"
	"github.com/chronostore/kernel/store"
)

// Instance is one open storage kernel: its own Registry, Interner, logger,
// configuration, and Store. Nothing here is a package-level global.
type Instance struct {
	cfg      kconfig.Kernel
	logger   *klog.Logger
	registry *byteable.Registry
	interner *keys.Interner
	store    *store.Store

	cancel context.CancelFunc
}

// Option configures Open before the Instance is constructed.
type Option func(*openOptions)

type openOptions struct {
	cfg        kconfig.Kernel
	cfgPath    string
	baseLogger *zap.Logger
}

// WithConfig overrides the kernel's tunables instead of loading them from a
// file.
func WithConfig(cfg kconfig.Kernel) Option {
	return func(o *openOptions) { o.cfg = cfg }
}

// WithConfigFile loads tunables from a YAML file via kconfig.Load, falling
// back to kconfig.Default for a missing file.
func WithConfigFile(path string) Option {
	return func(o *openOptions) { o.cfgPath = path }
}

// WithZapLogger supplies a pre-built zap logger (e.g. one already wired to
// the caller's own sinks) instead of the kernel's own default.
func WithZapLogger(base *zap.Logger) Option {
	return func(o *openOptions) { o.baseLogger = base }
}

// Open constructs an Instance rooted at dir: its own Registry and Interner,
// a logger scoped to "kernel", and a Store with its corpus worker pool
// already running. Close must be called to stop that pool and release
// sealed chunks' mappings.
func Open(dir string, opts ...Option) (*Instance, error) {
	o := openOptions{cfg: kconfig.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfgPath != "" {
		cfg, err := kconfig.Load(o.cfgPath)
		if err != nil {
			return nil, kerr.New(kerr.IoError, "kernel.Open", err)
		}
		o.cfg = cfg
	}

	logger := klog.New(o.baseLogger, "kernel")
	ctx, cancel := context.WithCancel(context.Background())

	registry := byteable.NewRegistry()
	interner := keys.NewInterner()
	inst := &Instance{
		cfg:      o.cfg,
		logger:   logger,
		registry: registry,
		interner: interner,
		store:    store.New(ctx, dir, o.cfg, logger, registry, interner),
		cancel:   cancel,
	}
	logger.Infow("kernel opened", "dir", dir, "corpus_workers", o.cfg.CorpusWorkers)
	return inst, nil
}

// Store exposes the opened Store surface (Gatherable, SearchIndex,
// Syncable, and the full add/remove/select/verify/find/search set).
func (inst *Instance) Store() *store.Store { return inst.store }

// Registry exposes the Instance's process-scoped Byteable decoder table.
func (inst *Instance) Registry() *byteable.Registry { return inst.registry }

// Interner exposes the Instance's process-scoped, collision-tolerant
// Composite cache. Per DESIGN.md's Open Question resolution, callers
// needing exact equality must build Composites via keys.FromParts directly
// rather than through this cache.
func (inst *Instance) Interner() *keys.Interner { return inst.interner }

// Config returns the tunables this Instance was opened with.
func (inst *Instance) Config() kconfig.Kernel { return inst.cfg }

// Close stops the corpus worker pool, releases every sealed chunk's memory
// mapping, and cancels the context the pool was started with.
func (inst *Instance) Close() error {
	defer inst.cancel()
	if err := inst.store.Sync(); err != nil {
		return err
	}
	return inst.store.Close()
}
