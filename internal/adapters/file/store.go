package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/google/uuid"
)

// record is the on-disk document of one user.
type record struct {
	User     domain.User      `json:"user"`
	Visits   []domain.Visit   `json:"visits"`
	Messages []domain.Message `json:"messages"`
}

// Store implements ports.VisitStore using the local filesystem.
// Each user is one JSON file named after the user ID.
type Store struct {
	BasePath string

	mu    sync.Mutex
	index map[string]string // identity -> user ID
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".pitch/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".pitch", "sessions")
	}
	return &Store{BasePath: basePath, index: make(map[string]string)}
}

// FindUser looks a user up by identity.
func (s *Store) FindUser(ctx context.Context, identity string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadByIdentity(identity)
	if err != nil {
		return nil, err
	}
	return &rec.User, nil
}

// CreateUser registers an identity, returning the existing user if present.
func (s *Store) CreateUser(ctx context.Context, identity string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, err := s.loadByIdentity(identity); err == nil {
		return &rec.User, nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	rec := &record{User: domain.User{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: time.Now().UTC(),
	}}
	if err := s.save(rec); err != nil {
		return nil, err
	}
	s.index[identity] = rec.User.ID
	return &rec.User, nil
}

// LatestVisit returns the user's newest visit.
func (s *Store) LatestVisit(ctx context.Context, userID string) (*domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrVisitNotFound
		}
		return nil, err
	}
	if len(rec.Visits) == 0 {
		return nil, domain.ErrVisitNotFound
	}
	latest := rec.Visits[len(rec.Visits)-1]
	return &latest, nil
}

// CreateVisit appends a visit to the user's file.
func (s *Store) CreateVisit(ctx context.Context, visit *domain.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(visit.UserID)
	if err != nil {
		return err
	}

	visit.ID = uuid.NewString()
	visit.Seq = 1
	if n := len(rec.Visits); n > 0 {
		visit.Seq = rec.Visits[n-1].Seq + 1
	}
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now().UTC()
	}
	visit.UpdatedAt = visit.CreatedAt

	rec.Visits = append(rec.Visits, *visit)
	return s.save(rec)
}

// UpdateVisit rewrites a stored visit.
func (s *Store) UpdateVisit(ctx context.Context, visit *domain.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(visit.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrVisitNotFound
		}
		return err
	}

	for i := range rec.Visits {
		if rec.Visits[i].ID != visit.ID {
			continue
		}
		visit.Seq = rec.Visits[i].Seq
		visit.CreatedAt = rec.Visits[i].CreatedAt
		visit.UpdatedAt = time.Now().UTC()
		rec.Visits[i] = *visit
		return s.save(rec)
	}
	return domain.ErrVisitNotFound
}

// AppendMessage appends a message to the user's file.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(msg.UserID)
	if err != nil {
		return err
	}
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	rec.Messages = append(rec.Messages, *msg)
	return s.save(rec)
}

// DueVisits scans every user file for expired timers.
func (s *Store) DueVisits(ctx context.Context, now time.Time, limit int) ([]domain.DueVisit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.all()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		visit    domain.Visit
		identity string
	}
	var due []candidate
	for _, rec := range records {
		for _, v := range rec.Visits {
			if v.Due(now) {
				due = append(due, candidate{visit: v, identity: rec.User.Identity})
			}
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].visit.CreatedAt.Before(due[j].visit.CreatedAt)
	})

	out := make([]domain.DueVisit, 0, len(due))
	for _, c := range due {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, domain.DueVisit{VisitID: c.visit.ID, Identity: c.identity})
	}
	return out, nil
}

// History returns the full record of an identity.
func (s *Store) History(ctx context.Context, identity string) (*domain.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadByIdentity(identity)
	if err != nil {
		return nil, err
	}
	return &domain.History{User: rec.User, Visits: rec.Visits, Messages: rec.Messages}, nil
}

// DeleteUser removes the user's file.
func (s *Store) DeleteUser(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadByIdentity(identity)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(rec.User.ID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	delete(s.index, identity)
	return nil
}

// ListUsers returns every user with a file on disk.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.all()
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(records))
	for _, rec := range records {
		users = append(users, rec.User)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.BasePath, userID+".json")
}

// loadByIdentity resolves through the index, rescanning the directory on a
// miss since another process may have created the user.
func (s *Store) loadByIdentity(identity string) (*record, error) {
	if id, ok := s.index[identity]; ok {
		rec, err := s.load(id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		delete(s.index, identity)
	}

	if _, err := s.all(); err != nil {
		return nil, err
	}
	id, ok := s.index[identity]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return s.load(id)
}

func (s *Store) load(userID string) (*record, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}

	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session file: %w", err)
	}
	return &rec, nil
}

// all loads every record and refreshes the identity index.
func (s *Store) all() ([]*record, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var records []*record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		s.index[rec.User.Identity] = rec.User.ID
		records = append(records, rec)
	}
	return records, nil
}

// save writes the record atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) save(rec *record) error {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Same directory keeps the rename on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+rec.User.ID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	destPath := s.path(rec.User.ID)
	if _, err := os.Stat(destPath); err == nil {
		// os.Rename fails on Windows when dest exists.
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing session file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to session file: %w", err)
	}
	return nil
}
