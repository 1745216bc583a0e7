package session

import (
	"context"
	"sync"

	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/transport"
)

// Registry holds the live user sessions of this instance, keyed by user id.
// At most one session per user: a new glasses connection replaces (and
// disposes) the prior session. Sessions are removed only on replacement or
// explicit release; an upstream disconnect leaves the session registered so
// app state survives a phone network blip.
type Registry struct {
	log  *logger.Logger
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*UserSession

	release *ReleaseService
}

// NewRegistry creates an empty registry whose sessions share deps.
func NewRegistry(deps Deps, log *logger.Logger) *Registry {
	deps.fillDefaults()
	if log == nil {
		log = deps.Log
	}
	return &Registry{
		log:      log.WithComponent("registry"),
		deps:     deps,
		sessions: make(map[string]*UserSession),
	}
}

// SetReleaseService wires the cross-instance release protocol. Optional;
// single-node deployments run without it.
func (r *Registry) SetReleaseService(rs *ReleaseService) {
	r.release = rs
}

// Get returns the live session for a user, if any.
func (r *Registry) Get(userID string) (*UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// CreateOrReplace builds a session for a freshly authenticated glasses
// channel. A prior session for the same user is disposed; if none exists
// locally, other instances are asked to release theirs first.
func (r *Registry) CreateOrReplace(ctx context.Context, userID string, upstream transport.Channel) *UserSession {
	if r.release != nil {
		if _, ok := r.Get(userID); !ok {
			r.release.RequestRelease(ctx, userID)
		}
	}

	s := newUserSession(userID, upstream, r.deps,
		defaultAppTimings(), defaultMicTimings(), photoRequestTimeout, languageChangeDebounce)

	r.mu.Lock()
	prior := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()

	if prior != nil {
		r.log.Info("replacing prior session", "user_id", userID, "prior_session_id", prior.SessionID())
		prior.Dispose()
	}
	return s
}

// HandleUpstreamDisconnect forwards an upstream close to the session if it is
// still the registered one. The session stays in the registry.
func (r *Registry) HandleUpstreamDisconnect(userID string, s *UserSession) {
	current, ok := r.Get(userID)
	if !ok || current != s {
		return
	}
	s.HandleUpstreamDisconnect()
}

// Release disposes and removes a user's session. Reports whether one existed.
func (r *Registry) Release(userID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Dispose()
	return true
}

// Count reports the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// DisposeAll tears down every session; used on server shutdown.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	sessions := make([]*UserSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*UserSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}
