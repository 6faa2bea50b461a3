package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/renderq/job"
)

// Config defines per-tier rate limiting and concurrency.
type Config struct {
	// Priority is the tier this config applies to.
	Priority job.Priority

	// MaxConcurrency limits how many jobs of this tier may be active in the
	// local pool at once. Zero means no tier-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained dispatches per second for this
	// tier. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// tierState tracks runtime state for a single tier.
type tierState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newTierState(cfg Config) *tierState {
	ts := &tierState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// open reports whether the tier may take another job right now.
func (ts *tierState) open() bool {
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	if ts.limiter != nil && ts.limiter.Tokens() < 1 {
		return false
	}
	return true
}

// Manager enforces per-tier limits at claim time. It is safe for concurrent
// use; a nil *Manager imposes no limits.
type Manager struct {
	mu    sync.Mutex
	tiers map[job.Priority]*tierState
}

// NewManager creates a Manager with the given tier configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{tiers: make(map[job.Priority]*tierState, len(configs))}
	for _, cfg := range configs {
		m.tiers[cfg.Priority] = newTierState(cfg)
	}
	return m
}

// Limited reports whether any tier has a limit configured.
func (m *Manager) Limited() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tiers) > 0
}

// Allowed returns the tiers that may be claimed from now, most urgent
// first. Nil means every tier.
func (m *Manager) Allowed() []job.Priority {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tiers) == 0 {
		return nil
	}
	allowed := make([]job.Priority, 0, len(job.Priorities))
	for _, p := range job.Priorities {
		if ts := m.tiers[p]; ts == nil || ts.open() {
			allowed = append(allowed, p)
		}
	}
	return allowed
}

// Acquire records a dispatch from tier p: it takes a rate token and
// increments the active count. The caller MUST call Release when the job
// leaves its slot.
func (m *Manager) Acquire(p job.Priority) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tiers[p]; ts != nil {
		if ts.limiter != nil {
			ts.limiter.Allow()
		}
		ts.active++
	}
}

// Release decrements the active count for tier p.
func (m *Manager) Release(p job.Priority) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tiers[p]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetConfig dynamically updates (or creates) a tier configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tiers[cfg.Priority]
	ts := newTierState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.tiers[cfg.Priority] = ts
}

// ActiveCount returns the current number of active jobs for tier p.
func (m *Manager) ActiveCount(p job.Priority) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tiers[p]; ts != nil {
		return ts.active
	}
	return 0
}
