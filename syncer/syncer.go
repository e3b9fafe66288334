// Package syncer owns the canonical in-memory record collection for the
// active session and bridges session changes to store subscriptions.
package syncer

import (
	"context"
	"errors"
	"sync"

	"servtrack/auth"
	"servtrack/service"
)

var (
	// ErrNoSession signals a mutation was attempted while logged out.
	ErrNoSession = errors.New("syncer: no active session")
	// ErrPermission signals the target record belongs to another user. The
	// store is never called in that case.
	ErrPermission = errors.New("syncer: record owned by another user")
)

// SessionSource emits session snapshots: the current one immediately on
// subscribe, then every change. auth.Service implements it.
type SessionSource interface {
	SubscribeSessions(fn func(auth.Session)) (cancel func())
}

// Synchronizer keeps one in-memory record collection consistent with the
// backing store for whichever session is active. With a push-capable store
// the pushed full set always wins; with the local store the synchronizer
// maintains the collection itself from mutation return values.
//
// Lifecycle: New → Start → mutations/Records → Close.
type Synchronizer struct {
	store    service.Store
	sessions SessionSource

	ctx            context.Context
	cancelSessions func()

	mu         sync.Mutex
	session    auth.Session
	records    []service.Record
	generation uint64
	watch      *service.Watch
	live       bool // backend pushes full sets
}

// New builds a Synchronizer over the given store and session source.
func New(store service.Store, sessions SessionSource) *Synchronizer {
	return &Synchronizer{store: store, sessions: sessions}
}

// Start subscribes to session changes. The session source delivers the
// current snapshot immediately, so a session that is already active is
// picked up without waiting for the next login.
func (s *Synchronizer) Start(ctx context.Context) {
	s.ctx = ctx
	s.cancelSessions = s.sessions.SubscribeSessions(s.onSession)
}

// Close tears the synchronizer down: session subscription, store watch, and
// canonical collection are all released. No callback applies after Close.
func (s *Synchronizer) Close() {
	if s.cancelSessions != nil {
		s.cancelSessions()
		s.cancelSessions = nil
	}

	s.mu.Lock()
	s.generation++
	old := s.watch
	s.watch = nil
	s.live = false
	s.records = nil
	s.session = auth.Session{}
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// Records returns a copy of the canonical collection, newest first.
func (s *Synchronizer) Records() []service.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]service.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Session returns the session the collection is currently scoped to.
func (s *Synchronizer) Session() auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Add creates a record owned by the active session. Ownership is injected
// here; callers cannot choose it.
func (s *Synchronizer) Add(ctx context.Context, params service.Params) (service.Record, error) {
	s.mu.Lock()
	sess := s.session
	gen := s.generation
	s.mu.Unlock()

	if !sess.Active() {
		return service.Record{}, ErrNoSession
	}

	rec, err := s.store.Create(ctx, sess.UserID, params)
	if err != nil {
		return service.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation && !s.live {
		s.records = append([]service.Record{rec}, s.records...)
	}
	return rec, nil
}

// Update replaces the editable fields of a record owned by the active
// session. An ownership mismatch fails with ErrPermission before any store
// call; an id absent from the collection fails with service.ErrNotFound.
func (s *Synchronizer) Update(ctx context.Context, id string, params service.Params) (service.Record, error) {
	gen, err := s.authorize(id)
	if err != nil {
		return service.Record{}, err
	}

	rec, err := s.store.Update(ctx, id, params)
	if err != nil {
		return service.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation && !s.live {
		for i := range s.records {
			if s.records[i].ID == id {
				s.records[i] = rec
				break
			}
		}
	}
	return rec, nil
}

// Remove deletes a record owned by the active session. Ownership rules match
// Update. Deleting the same id twice fails with service.ErrNotFound.
func (s *Synchronizer) Remove(ctx context.Context, id string) error {
	gen, err := s.authorize(id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation && !s.live {
		for i := range s.records {
			if s.records[i].ID == id {
				s.records = append(s.records[:i], s.records[i+1:]...)
				break
			}
		}
	}
	return nil
}

// authorize verifies the session is active and the target record, as known
// to the canonical collection, belongs to it.
func (s *Synchronizer) authorize(id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Active() {
		return 0, ErrNoSession
	}
	for _, rec := range s.records {
		if rec.ID == id {
			if rec.OwnerID != s.session.UserID {
				return 0, ErrPermission
			}
			return s.generation, nil
		}
	}
	return 0, service.ErrNotFound
}

// onSession handles a session transition: it invalidates the previous
// subscription generation, stops the old watch, and establishes state for
// the new session. Stale callbacks carry an old generation and are dropped
// by apply.
func (s *Synchronizer) onSession(sess auth.Session) {
	s.mu.Lock()
	sameUser := s.session.UserID == sess.UserID && sess.Active()
	s.session = sess
	if sameUser {
		// Token refresh or profile change; the record scope is unchanged.
		s.mu.Unlock()
		return
	}

	s.generation++
	gen := s.generation
	old := s.watch
	s.watch = nil
	s.live = false
	s.records = nil
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if !sess.Active() {
		return
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	w, err := s.store.Watch(ctx, sess.UserID, func(records []service.Record) {
		s.apply(gen, records)
	})
	switch {
	case err == nil:
		s.mu.Lock()
		if s.generation == gen {
			s.watch = w
			s.live = true
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		// The session moved on while the watch was being established.
		w.Stop()
	case errors.Is(err, service.ErrWatchUnsupported):
		records, listErr := s.store.List(ctx, sess.UserID)
		if listErr != nil {
			return
		}
		s.apply(gen, records)
	default:
		// Store unreachable; the collection stays empty until the next
		// session transition.
	}
}

// apply replaces the canonical collection wholesale, unless the snapshot
// belongs to a superseded subscription generation.
func (s *Synchronizer) apply(gen uint64, records []service.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}
	s.records = make([]service.Record, len(records))
	copy(s.records, records)
}
