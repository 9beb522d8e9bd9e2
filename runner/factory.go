// Package runner implements the runner warm pool of spec §4.5: a
// process-wide cache of initialized provider.Provider instances keyed
// on (tenant, model, runner), bounded in size, evicted by idle TTL,
// and swept periodically in the background.
//
// Grounded on system/core/registry.go's map+mutex+ordered-slice
// registry shape, combined with a TTL-cache eviction policy; the
// background sweeper is scheduled with github.com/robfig/cron/v3, a
// teacher dependency previously used for blockchain automation job
// scheduling and repurposed here for the periodic 5-minute idle sweep.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/llm-inference-kernel/logging"
	"github.com/r3e-network/llm-inference-kernel/provider"
)

// Key identifies a cached runner (spec §4.5).
type Key struct {
	Tenant string
	Model  string
	Runner string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Tenant, k.Model, k.Runner)
}

// Creator builds a fresh provider.Provider for key, implementing spec
// §4.5's "fetching the manifest; locating the configured implementation
// by identifier; fetching tenant-specific runner configuration; calling
// initialize(...); optionally invoking warmup(...)" sequence. The host
// application supplies this — the factory only owns pooling/eviction.
type Creator func(ctx context.Context, key Key) (provider.Provider, error)

type pooledEntry struct {
	provider   provider.Provider
	lastAccess time.Time
	createdAt  time.Time

	mu         sync.Mutex
	initDone   bool
	initErr    error
	initWaiter chan struct{}
}

// Config bounds the factory's pool size and eviction timing.
type Config struct {
	MaxPoolSize   int
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// DefaultConfig mirrors spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{MaxPoolSize: 10, IdleTTL: 15 * time.Minute, SweepInterval: 5 * time.Minute}
}

// Factory is the warm pool of spec §4.5.
type Factory struct {
	mu      sync.Mutex
	entries map[Key]*pooledEntry
	order   []Key

	config  Config
	create  Creator
	log     *logging.Logger
	cron    *cron.Cron
	cronID  cron.EntryID
}

// New builds a Factory. create is invoked at most once per key at any
// given time (spec §8.7's "at most one runner initialized concurrently"
// invariant); the sweeper is scheduled immediately and runs until Close.
func New(cfg Config, create Creator, log *logging.Logger) *Factory {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if log == nil {
		log = logging.NewDefault("runner")
	}
	f := &Factory{
		entries: map[Key]*pooledEntry{},
		config:  cfg,
		create:  create,
		log:     log,
	}
	f.cron = cron.New()
	spec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	id, err := f.cron.AddFunc(spec, f.sweep)
	if err != nil {
		log.WithField("error", err).Error("failed to schedule idle sweeper")
	} else {
		f.cronID = id
	}
	f.cron.Start()
	return f
}

// Acquire returns the pooled provider for key, creating and
// initializing it on miss. Concurrent Acquire calls for the same key
// block on the same in-flight creation rather than racing (spec §8.7).
func (f *Factory) Acquire(ctx context.Context, key Key) (provider.Provider, error) {
	f.mu.Lock()
	entry, exists := f.entries[key]
	if !exists {
		now := time.Now()
		entry = &pooledEntry{createdAt: now, lastAccess: now, initWaiter: make(chan struct{})}
		f.entries[key] = entry
		f.order = append(f.order, key)
		f.evictExcessLocked()
	}
	f.mu.Unlock()

	entry.mu.Lock()
	if !entry.initDone {
		p, err := f.create(ctx, key)
		entry.provider = p
		entry.initErr = err
		entry.initDone = true
		close(entry.initWaiter)
	}
	initErr := entry.initErr
	p := entry.provider
	entry.mu.Unlock()

	if initErr != nil {
		f.mu.Lock()
		delete(f.entries, key)
		for i, k := range f.order {
			if k == key {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		return nil, initErr
	}

	f.mu.Lock()
	entry.lastAccess = time.Now()
	f.mu.Unlock()

	return p, nil
}

// evictExcessLocked drops the least-recently-accessed entries above
// MaxPoolSize. Called with f.mu held.
func (f *Factory) evictExcessLocked() {
	for len(f.order) > f.config.MaxPoolSize {
		var oldestIdx int
		var oldest time.Time
		for i, k := range f.order {
			e := f.entries[k]
			if e == nil {
				continue
			}
			if i == 0 || e.lastAccess.Before(oldest) {
				oldest = e.lastAccess
				oldestIdx = i
			}
		}
		victim := f.order[oldestIdx]
		f.closeEntry(victim)
		f.order = append(f.order[:oldestIdx], f.order[oldestIdx+1:]...)
	}
}

func (f *Factory) closeEntry(key Key) {
	entry, ok := f.entries[key]
	if !ok {
		return
	}
	delete(f.entries, key)
	if entry.provider != nil {
		go func() {
			if err := entry.provider.Shutdown(context.Background()); err != nil {
				f.log.WithField("runner", key.String()).WithField("error", err).Warn("runner shutdown failed")
			}
		}()
	}
}

// sweep removes entries idle for longer than IdleTTL (spec §4.5
// "background sweeper runs every 5 minutes").
func (f *Factory) sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-f.config.IdleTTL)
	remaining := f.order[:0]
	for _, k := range f.order {
		e := f.entries[k]
		if e != nil && e.initDone && e.lastAccess.Before(cutoff) {
			f.closeEntry(k)
			continue
		}
		remaining = append(remaining, k)
	}
	f.order = remaining
}

// Stats is a point-in-time pool snapshot (SPEC_FULL.md §C.4).
type Stats struct {
	Size    int
	MaxSize int
}

// Stats returns a snapshot of pool occupancy.
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Size: len(f.order), MaxSize: f.config.MaxPoolSize}
}

// Close stops the background sweeper and shuts down every pooled runner.
func (f *Factory) Close(ctx context.Context) []error {
	f.cron.Stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, k := range f.order {
		e := f.entries[k]
		if e != nil && e.provider != nil {
			if err := e.provider.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	f.entries = map[Key]*pooledEntry{}
	f.order = nil
	return errs
}
