package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/llm-inference-kernel/logging"
)

// defaultSweepInterval is Manager's sweep cadence (spec §4.5's
// "background sweeper") when PoolConfig.SweepInterval is unset; it is
// shorter than runner.Factory's 5-minute default.
const defaultSweepInterval = 2 * time.Minute

// key identifies one (model, tenant) pool.
type key struct {
	model  string
	tenant string
}

// Manager maintains one SessionPool per (model, tenant) pair within a
// runner (spec §4.5 "Within a runner, SessionManager maintains one
// SessionPool per (model, tenant)"). A background sweeper invokes
// Cleanup on every pool on config.SweepInterval, mirroring
// runner.Factory's cron-driven idle sweep so an idle/age-expired
// session sitting in a pool's available queue doesn't wait for its
// next Acquire (or process Shutdown) to be reclaimed.
type Manager struct {
	mu     sync.Mutex
	pools  map[key]*SessionPool
	config PoolConfig
	create Creator

	log    *logging.Logger
	cron   *cron.Cron
	cronID cron.EntryID
}

// NewManager builds a Manager using cfg/create for every pool it lazily
// creates, and starts the background cleanup sweep immediately.
func NewManager(cfg PoolConfig, create Creator, log *logging.Logger) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if log == nil {
		log = logging.NewDefault("session")
	}
	m := &Manager{pools: map[key]*SessionPool{}, config: cfg, create: create, log: log}

	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	id, err := m.cron.AddFunc(spec, m.Cleanup)
	if err != nil {
		log.WithField("error", err).Error("failed to schedule session cleanup sweeper")
	} else {
		m.cronID = id
	}
	m.cron.Start()
	return m
}

// PoolFor returns (creating if necessary) the pool for (modelID, tenantID).
func (m *Manager) PoolFor(modelID, tenantID string) *SessionPool {
	k := key{model: modelID, tenant: tenantID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[k]; ok {
		return p
	}
	p := NewSessionPool(modelID, tenantID, m.config, m.create)
	m.pools[k] = p
	return p
}

// Acquire is a convenience wrapper over PoolFor(...).Acquire(...).
func (m *Manager) Acquire(ctx context.Context, modelID, tenantID string, cfg Config, timeout time.Duration) (*Session, error) {
	return m.PoolFor(modelID, tenantID).Acquire(ctx, cfg, timeout)
}

// Release returns s to its owning pool.
func (m *Manager) Release(s *Session) {
	m.PoolFor(s.ModelID, s.TenantID).Release(s)
}

// Cleanup runs Cleanup on every managed pool.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	pools := make([]*SessionPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()
	for _, p := range pools {
		p.Cleanup()
	}
}

// Shutdown stops the background cleanup sweep and shuts down every
// managed pool.
func (m *Manager) Shutdown() {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.mu.Lock()
	pools := make([]*SessionPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()
	for _, p := range pools {
		p.Shutdown()
	}
}
