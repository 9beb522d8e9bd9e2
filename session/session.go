// Package session implements the session layer of spec §4.5: a
// Session is a reusable execution context inside a runner; a
// SessionPool bounds concurrent sessions for one (model, tenant) pair
// and evicts idle/aged entries; a SessionManager owns one pool per
// (model, tenant).
//
// Grounded loosely on infrastructure/accountpool/marble/pool.go's
// lock/release accounting discipline (acquire marks a resource busy,
// release decrements and makes it available again, a periodic sweep
// reclaims stale holders) — adapted from a database-backed resource
// lock to an in-process bounded pool over a buffered channel, since
// the teacher's pool has no in-memory channel-based counterpart in
// the pack that fits a single-process session cache.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
)

// Config is the per-session-config payload carried by a Session
// (spec §3 "immutable session configuration").
type Config map[string]interface{}

// Session is a reusable execution context inside a runner (spec §3, §4.5).
type Session struct {
	ID         string
	ModelID    string
	TenantID   string
	Config     Config
	Handle     interface{}

	mu           sync.Mutex
	active       bool
	requestCount int64
	lastAccess   time.Time
	createdAt    time.Time
	closed       bool
	closeOnce    sync.Once
	onClose      func(*Session)
}

func newSession(modelID, tenantID string, cfg Config, handle interface{}, onClose func(*Session)) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		ModelID:    modelID,
		TenantID:   tenantID,
		Config:     cfg,
		Handle:     handle,
		createdAt:  now,
		lastAccess: now,
		onClose:    onClose,
	}
}

// touch marks the session accessed, incrementing its request counter
// (spec §3 "accessed (counter incremented, last-access updated)").
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.requestCount++
	s.lastAccess = time.Now()
}

func (s *Session) idleExpired(idleTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return idleTimeout > 0 && time.Since(s.lastAccess) > idleTimeout
}

func (s *Session) ageExpired(maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maxAge > 0 && time.Since(s.createdAt) > maxAge
}

// Close closes the session exactly once regardless of the termination
// path (spec §8.8 invariant).
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.active = false
		s.mu.Unlock()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// RequestCount returns the number of times the session has been
// accessed.
func (s *Session) RequestCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// PoolConfig bounds a SessionPool (spec §4.5).
type PoolConfig struct {
	MaxConcurrent int
	IdleTimeout   time.Duration
	MaxAge        time.Duration
	Reuse         bool
	WarmCount     int

	// SweepInterval is how often Manager's background cron sweep calls
	// Cleanup on every pool it owns. Zero means Manager falls back to
	// defaultSweepInterval. The cron "@every" schedule does not fire more
	// often than once a second, so a shorter interval sweeps once a second.
	SweepInterval time.Duration
}

// DefaultPoolConfig mirrors spec-consistent defaults (SPEC_FULL.md §A.3).
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxConcurrent: 4, IdleTimeout: 10 * time.Minute, MaxAge: time.Hour, Reuse: true, SweepInterval: defaultSweepInterval}
}

// Creator builds the native handle underlying a new Session.
type Creator func(ctx context.Context, modelID, tenantID string, cfg Config) (interface{}, error)

// SessionPool bounds concurrent sessions for one (model, tenant) pair
// (spec §4.5).
type SessionPool struct {
	modelID string
	tenantID string
	config  PoolConfig
	create  Creator

	mu        sync.Mutex
	active    int
	available chan *Session
}

// NewSessionPool builds a SessionPool for (modelID, tenantID).
func NewSessionPool(modelID, tenantID string, cfg PoolConfig, create Creator) *SessionPool {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &SessionPool{
		modelID:   modelID,
		tenantID:  tenantID,
		config:    cfg,
		create:    create,
		available: make(chan *Session, cfg.MaxConcurrent),
	}
}

// Acquire implements spec §4.5's acquire semantics:
//  1. poll the available queue; discard idle/age-expired sessions and retry;
//  2. otherwise create a new session if below maxConcurrent;
//  3. otherwise wait up to timeout for one to be released;
//  4. on timeout, return ErrSessionPoolExhausted (spec §8.13, a 503-class
//     condition the caller should surface).
func (p *SessionPool) Acquire(ctx context.Context, cfg Config, timeout time.Duration) (*Session, error) {
	for {
		select {
		case s := <-p.available:
			if s.idleExpired(p.config.IdleTimeout) || s.ageExpired(p.config.MaxAge) {
				s.Close()
				continue
			}
			s.touch()
			p.mu.Lock()
			p.active++
			p.mu.Unlock()
			return s, nil
		default:
		}

		p.mu.Lock()
		if p.active < p.config.MaxConcurrent {
			p.active++
			p.mu.Unlock()
			handle, err := p.create(ctx, p.modelID, p.tenantID, cfg)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				return nil, err
			}
			s := newSession(p.modelID, p.tenantID, cfg, handle, nil)
			s.touch()
			return s, nil
		}
		p.mu.Unlock()

		if timeout <= 0 {
			return nil, kernelerrors.ErrSessionPoolExhausted
		}

		select {
		case s := <-p.available:
			if s.idleExpired(p.config.IdleTimeout) || s.ageExpired(p.config.MaxAge) {
				s.Close()
				continue
			}
			s.touch()
			p.mu.Lock()
			p.active++
			p.mu.Unlock()
			return s, nil
		case <-time.After(timeout):
			return nil, kernelerrors.ErrSessionPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release implements spec §4.5's release semantics: decrement active,
// and either close the session (expired or reuse disabled) or offer it
// back to the available queue.
func (p *SessionPool) Release(s *Session) {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	if !p.config.Reuse || s.idleExpired(p.config.IdleTimeout) || s.ageExpired(p.config.MaxAge) {
		s.Close()
		return
	}

	select {
	case p.available <- s:
	default:
		// queue full (shouldn't happen since active tracks capacity); close
		// rather than leak.
		s.Close()
	}
}

// Cleanup iterates the available queue, closing every idle/age-expired
// session (spec §4.5 "periodic cleanup").
func (p *SessionPool) Cleanup() {
	n := len(p.available)
	for i := 0; i < n; i++ {
		select {
		case s := <-p.available:
			if s.idleExpired(p.config.IdleTimeout) || s.ageExpired(p.config.MaxAge) {
				s.Close()
				continue
			}
			select {
			case p.available <- s:
			default:
				s.Close()
			}
		default:
			return
		}
	}
}

// Shutdown closes every session reachable from the available queue.
func (p *SessionPool) Shutdown() {
	for {
		select {
		case s := <-p.available:
			s.Close()
		default:
			return
		}
	}
}
