package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry keeps sessions in memory. Nothing survives a restart.
type Registry struct {
	deps    Deps
	base    context.Context
	idleTTL time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates an empty registry. Sessions idle for longer than idleTTL are removed by Sweep.
func NewRegistry(base context.Context, deps Deps, idleTTL time.Duration) *Registry {
	return &Registry{
		deps:     deps,
		base:     base,
		idleTTL:  idleTTL,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create registers a new idle session.
func (r *Registry) Create() *Session {
	s := NewSession(r.base, uuid.New(), r.deps)
	r.mu.Lock()
	r.sessions[s.ID()] = s
	total := len(r.sessions)
	r.mu.Unlock()

	log.Debug().Str("session_id", s.ID().String()).Int("sessions", total).Msg("Session created")
	return s
}

// Get returns the session or nil.
func (r *Registry) Get(id uuid.UUID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions with no subscribers and no run in flight that have been idle longer than the TTL.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		last, inUse := s.IdleSince()
		if inUse || now.Sub(last) <= r.idleTTL {
			continue
		}
		delete(r.sessions, id)
		s.closeSubscribers()
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Int("sessions", len(r.sessions)).Msg("Idle sessions swept")
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Close waits for in-flight runs and closes all subscriptions.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Wait()
		s.closeSubscribers()
	}
	log.Info().Int("sessions", len(sessions)).Msg("Session registry closed")
}
