package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/musher-dev/termbuild/internal/observability"
)

// Manager tracks the sessions a host has started.
type Manager struct {
	cfg       Config
	exclusive bool

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a registry. With exclusive set, starting a build
// cancels every running one first; otherwise sessions run concurrently on
// their own relay files.
func NewManager(cfg Config, exclusive bool) *Manager {
	return &Manager{
		cfg:       cfg,
		exclusive: exclusive,
		sessions:  make(map[string]*Session),
	}
}

// Start creates, registers, and starts a session. The session is forgotten
// once it closes.
func (m *Manager) Start(ctx context.Context, cmd Command, sink Sink) (*Session, error) {
	if m.exclusive {
		replaced := m.CancelAll()
		if replaced > 0 {
			observability.FromContext(ctx).Info("previous build replaced",
				slog.String("component", "session"),
				slog.String("event.type", "session.replace"),
				slog.Int("cancelled", replaced),
			)
		}
	}

	s := New(m.cfg, cmd, sink)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.forget(s.ID())
		return nil, err
	}

	go func() {
		<-s.Done()
		m.forget(s.ID())
	}()

	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]

	return s, ok
}

// List returns live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Info().Started.Before(out[j].Info().Started)
	})

	return out
}

// LiveIDs returns the ids whose relay files are in use.
func (m *Manager) LiveIDs() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]bool, len(m.sessions))
	for id := range m.sessions {
		ids[id] = true
	}

	return ids
}

// CancelAll cancels every live session and returns how many were running.
func (m *Manager) CancelAll() int {
	sessions := m.List()

	cancelled := 0

	for _, s := range sessions {
		if s.State() == Running {
			cancelled++
		}

		_ = s.Cancel()
		m.forget(s.ID())
	}

	return cancelled
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
}
