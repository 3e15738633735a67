// Package session keeps one staging workspace per browser session.
//
// Each workspace owns its own Store and Controller; nothing is shared between
// sessions except the Previewer and the submission Recorder. Idle workspaces
// are torn down by a background reaper, which releases their preview handles
// and cancels pending notice expiries. Manager.Close does the same for every
// workspace at shutdown.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/google/uuid"

	"github.com/JonMunkholm/filestage/internal/staging"
)

// Default lifetimes.
const (
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultReapInterval = time.Minute
)

// Config holds the per-workspace limits and the idle policy.
type Config struct {
	MaxFiles    int
	Rules       staging.Rules
	NoticeTTL   time.Duration
	IdleTimeout time.Duration
}

// Manager creates, finds and reaps workspaces.
type Manager struct {
	previewer staging.Previewer
	recorder  staging.Recorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	// flashes holds each workspace's dismissible error. Entries outlive an
	// abandoned session by at most IdleTimeout.
	flashes *ttlworker.Cache[string, string]

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder reports every submission to r.
func WithRecorder(r staging.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager whose workspaces acquire previews from p.
func NewManager(p staging.Previewer, cfg Config, opts ...Option) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = staging.DefaultMaxFiles
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = staging.DefaultNoticeTTL
	}
	if cfg.Rules.MaxSize() == 0 {
		cfg.Rules = staging.DefaultRules()
	}

	m := &Manager{
		previewer:  p,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
		flashes:    ttlworker.NewCache[string, string](cfg.IdleTimeout),
		workspaces: make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the workspace for id, creating a new one (with a new id) when
// id is empty or unknown. created reports whether a workspace was created.
func (m *Manager) Open(id string) (w *Workspace, created bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if w, ok := m.workspaces[id]; ok {
			w.Touch(now)
			return w, false
		}
	}

	id = uuid.NewString()
	w = m.newWorkspaceLocked(id, now)
	m.workspaces[id] = w

	m.logger.Debug("workspace created", "session_id", id)
	return w, true
}

// Get returns the workspace for id without creating one.
func (m *Manager) Get(id string) (*Workspace, bool) {
	m.mu.Lock()
	w, ok := m.workspaces[id]
	m.mu.Unlock()

	if ok {
		w.Touch(m.now())
	}
	return w, ok
}

// Remove tears down the workspace for id. It reports whether one existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	w, ok := m.workspaces[id]
	delete(m.workspaces, id)
	m.mu.Unlock()

	if ok {
		w.Close()
	}
	return ok
}

// Count returns the number of live workspaces.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Reap tears down every workspace idle for longer than the idle timeout.
// Workspaces with an open watcher are kept. It returns the number reaped.
func (m *Manager) Reap() int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Workspace
	for id, w := range m.workspaces {
		lastSeen, watched := w.idleSince()
		if watched || lastSeen.After(cutoff) {
			continue
		}
		idle = append(idle, w)
		delete(m.workspaces, id)
	}
	m.mu.Unlock()

	for _, w := range idle {
		w.Close()
	}
	return len(idle)
}

// StartReaper runs Reap every interval until ctx is cancelled.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}

	m.logger.Info("session reaper started",
		"interval", interval,
		"idle_timeout", m.cfg.IdleTimeout,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if n := m.Reap(); n > 0 {
				m.logger.Info("reaped idle sessions",
					"count", n,
					"remaining", m.Count(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}
		}
	}
}

// Close tears down every workspace. Used at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Workspace, 0, len(m.workspaces))
	for id, w := range m.workspaces {
		all = append(all, w)
		delete(m.workspaces, id)
	}
	m.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
	m.logger.Info("sessions closed", "count", len(all))
}

func (m *Manager) newWorkspaceLocked(id string, now time.Time) *Workspace {
	logger := m.logger.With("session_id", id)

	store := staging.NewStore(m.previewer,
		staging.WithRules(m.cfg.Rules),
		staging.WithMaxFiles(m.cfg.MaxFiles),
		staging.WithLogger(logger),
	)
	ctrl := staging.NewController(store,
		staging.WithNoticeTTL(m.cfg.NoticeTTL),
		staging.WithRecorder(m.recorder),
		staging.WithSessionID(id),
		staging.WithControllerLogger(logger),
	)
	return newWorkspace(id, store, ctrl, m.flashes, now)
}
