// Package memstore provides an in-memory [store.Store] backed by mutex-guarded
// maps. It is the default storage driver for development and is used by most
// tests; nothing survives a process restart.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cadenza-coach/cadenza/internal/store"
)

var _ store.Store = (*Store)(nil)

// defaultSessionLimit caps SessionsForUser when the caller passes a
// non-positive limit.
const defaultSessionLimit = 20

// Store is an in-memory implementation of [store.Store].
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	users    map[string]store.User
	sessions map[string]store.SessionRecord
	feedback map[string][]store.FeedbackItem // keyed by session ID, arrival order
	progress map[string]store.UserProgress
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[string]store.User),
		sessions: make(map[string]store.SessionRecord),
		feedback: make(map[string][]store.FeedbackItem),
		progress: make(map[string]store.UserProgress),
	}
}

// GetUser implements [store.Store].
func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

// CreateUser implements [store.Store].
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = *u
	return nil
}

// UpdateUser implements [store.Store].
func (s *Store) UpdateUser(ctx context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	s.users[u.ID] = *u
	return nil
}

// SaveSession implements [store.Store]. It inserts or overwrites the record
// keyed by its ID.
func (s *Store) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if cp.Personality != nil {
		p := *cp.Personality
		cp.Personality = &p
	}
	s.sessions[cp.ID] = cp
	return nil
}

// GetSession implements [store.Store].
func (s *Store) GetSession(ctx context.Context, id string) (*store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

// SessionsForUser implements [store.Store]. Records are returned newest first
// by start time.
func (s *Store) SessionsForUser(ctx context.Context, userID string, limit int) ([]store.SessionRecord, error) {
	if limit <= 0 {
		limit = defaultSessionLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []store.SessionRecord
	for _, rec := range s.sessions {
		if rec.UserID == userID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	if recs == nil {
		recs = []store.SessionRecord{}
	}
	return recs, nil
}

// ActiveSessionForUser implements [store.Store].
func (s *Store) ActiveSessionForUser(ctx context.Context, userID string) (*store.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *store.SessionRecord
	for _, rec := range s.sessions {
		if rec.UserID != userID || rec.Ended {
			continue
		}
		if latest == nil || rec.StartedAt.After(latest.StartedAt) {
			rec := rec
			latest = &rec
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

// AppendFeedback implements [store.Store].
func (s *Store) AppendFeedback(ctx context.Context, item *store.FeedbackItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feedback[item.SessionID] = append(s.feedback[item.SessionID], *item)
	return nil
}

// FeedbackForSession implements [store.Store]. Items come back in the order
// they were appended.
func (s *Store) FeedbackForSession(ctx context.Context, sessionID string) ([]store.FeedbackItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.feedback[sessionID]
	if items == nil {
		return []store.FeedbackItem{}, nil
	}
	return slices.Clone(items), nil
}

// GetProgress implements [store.Store].
func (s *Store) GetProgress(ctx context.Context, userID string) (*store.UserProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := p
	cp.TrackedIssues = maps.Clone(p.TrackedIssues)
	cp.PersonalityTraits = maps.Clone(p.PersonalityTraits)
	cp.ImprovementAreas = slices.Clone(p.ImprovementAreas)
	return &cp, nil
}

// SaveProgress implements [store.Store].
func (s *Store) SaveProgress(ctx context.Context, p *store.UserProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	cp.TrackedIssues = maps.Clone(p.TrackedIssues)
	cp.PersonalityTraits = maps.Clone(p.PersonalityTraits)
	cp.ImprovementAreas = slices.Clone(p.ImprovementAreas)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.progress[cp.UserID] = cp
	return nil
}
