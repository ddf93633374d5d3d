package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/google/uuid"
)

// Store implements ports.VisitStore in memory.
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	seq      int64
	users    map[string]*domain.User // by identity
	visits   map[string][]*domain.Visit
	byID     map[string]*domain.Visit
	messages map[string][]*domain.Message // by user ID
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		visits:   make(map[string][]*domain.Visit),
		byID:     make(map[string]*domain.Visit),
		messages: make(map[string][]*domain.Message),
	}
}

// FindUser looks a user up by identity.
func (s *Store) FindUser(ctx context.Context, identity string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[identity]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateUser registers an identity.
func (s *Store) CreateUser(ctx context.Context, identity string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[identity]; ok {
		cp := *u
		return &cp, nil
	}
	u := &domain.User{ID: uuid.NewString(), Identity: identity, CreatedAt: time.Now().UTC()}
	s.users[identity] = u
	cp := *u
	return &cp, nil
}

// LatestVisit returns the user's newest visit.
func (s *Store) LatestVisit(ctx context.Context, userID string) (*domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visits := s.visits[userID]
	if len(visits) == 0 {
		return nil, domain.ErrVisitNotFound
	}
	return copyVisit(visits[len(visits)-1]), nil
}

// CreateVisit appends a visit.
func (s *Store) CreateVisit(ctx context.Context, visit *domain.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	visit.ID = uuid.NewString()
	visit.Seq = s.seq
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now().UTC()
	}
	visit.UpdatedAt = visit.CreatedAt

	stored := copyVisit(visit)
	s.visits[visit.UserID] = append(s.visits[visit.UserID], stored)
	s.byID[visit.ID] = stored
	return nil
}

// UpdateVisit replaces a stored visit's mutable fields.
func (s *Store) UpdateVisit(ctx context.Context, visit *domain.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[visit.ID]
	if !ok {
		return domain.ErrVisitNotFound
	}
	visit.UpdatedAt = time.Now().UTC()
	updated := copyVisit(visit)
	updated.Seq = stored.Seq
	updated.CreatedAt = stored.CreatedAt
	*stored = *updated
	return nil
}

// AppendMessage stores a message.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	s.messages[msg.UserID] = append(s.messages[msg.UserID], &cp)
	return nil
}

// DueVisits lists visits whose timer expired and whose transition has not run.
func (s *Store) DueVisits(ctx context.Context, now time.Time, limit int) ([]domain.DueVisit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identities := make(map[string]string, len(s.users))
	for _, u := range s.users {
		identities[u.ID] = u.Identity
	}

	var due []*domain.Visit
	for _, visits := range s.visits {
		for _, v := range visits {
			if v.Due(now) {
				due = append(due, v)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Seq < due[j].Seq })

	out := make([]domain.DueVisit, 0, len(due))
	for _, v := range due {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, domain.DueVisit{VisitID: v.ID, Identity: identities[v.UserID]})
	}
	return out, nil
}

// History returns everything recorded for an identity.
func (s *Store) History(ctx context.Context, identity string) (*domain.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[identity]
	if !ok {
		return nil, domain.ErrUserNotFound
	}

	h := &domain.History{User: *u}
	for _, v := range s.visits[u.ID] {
		h.Visits = append(h.Visits, *copyVisit(v))
	}
	for _, m := range s.messages[u.ID] {
		h.Messages = append(h.Messages, *m)
	}
	return h, nil
}

// DeleteUser removes a user and everything recorded for it.
func (s *Store) DeleteUser(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[identity]
	if !ok {
		return domain.ErrUserNotFound
	}
	for _, v := range s.visits[u.ID] {
		delete(s.byID, v.ID)
	}
	delete(s.visits, u.ID)
	delete(s.messages, u.ID)
	delete(s.users, identity)
	return nil
}

// ListUsers returns every known user ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

// copyVisit isolates stored visits from caller mutation.
func copyVisit(v *domain.Visit) *domain.Visit {
	cp := *v
	cp.MessageIDs = append([]string(nil), v.MessageIDs...)
	cp.State = v.State.Clone()
	if v.SleepUntil != nil {
		t := *v.SleepUntil
		cp.SleepUntil = &t
	}
	return &cp
}
