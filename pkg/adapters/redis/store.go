package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.VisitStore using Redis.
//
// Layout under the prefix:
//
//	user:{identity}     JSON user
//	uid:{userID}        identity of a user ID
//	users               ZSET of identities scored by creation time
//	seq                 visit sequence counter
//	visit:{id}          JSON visit
//	visits:{userID}     ZSET of visit IDs scored by Seq
//	messages:{userID}   LIST of JSON messages
//	due                 ZSET of pending timed visit IDs scored by sleep_until (ms)
type Store struct {
	client *backend.Client
	prefix string
}

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "pitch:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) userKey(identity string) string { return s.prefix + "user:" + identity }
func (s *Store) uidKey(userID string) string     { return s.prefix + "uid:" + userID }
func (s *Store) usersKey() string                { return s.prefix + "users" }
func (s *Store) seqKey() string                  { return s.prefix + "seq" }
func (s *Store) visitKey(id string) string       { return s.prefix + "visit:" + id }
func (s *Store) visitsKey(userID string) string  { return s.prefix + "visits:" + userID }
func (s *Store) messagesKey(userID string) string {
	return s.prefix + "messages:" + userID
}
func (s *Store) dueKey() string { return s.prefix + "due" }

// FindUser looks a user up by identity.
func (s *Store) FindUser(ctx context.Context, identity string) (*domain.User, error) {
	val, err := s.client.Get(ctx, s.userKey(identity)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user from redis: %w", err)
	}

	var u domain.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &u, nil
}

// CreateUser registers an identity, returning the existing user if present.
func (s *Store) CreateUser(ctx context.Context, identity string) (*domain.User, error) {
	u := &domain.User{ID: uuid.NewString(), Identity: identity, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.userKey(identity), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to save user to redis: %w", err)
	}
	if !created {
		return s.FindUser(ctx, identity)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.uidKey(u.ID), identity, 0)
	pipe.ZAdd(ctx, s.usersKey(), backend.Z{Score: float64(u.CreatedAt.UnixNano()), Member: identity})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to index user: %w", err)
	}
	return u, nil
}

func (s *Store) getVisit(ctx context.Context, id string) (*domain.Visit, error) {
	val, err := s.client.Get(ctx, s.visitKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrVisitNotFound
		}
		return nil, fmt.Errorf("failed to get visit from redis: %w", err)
	}
	var v domain.Visit
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visit: %w", err)
	}
	return &v, nil
}

// LatestVisit returns the visit with the highest Seq.
func (s *Store) LatestVisit(ctx context.Context, userID string) (*domain.Visit, error) {
	ids, err := s.client.ZRevRange(ctx, s.visitsKey(userID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read visit index: %w", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrVisitNotFound
	}
	return s.getVisit(ctx, ids[0])
}

// writeVisit queues the visit document and its due-index entry.
func (s *Store) writeVisit(ctx context.Context, pipe backend.Pipeliner, v *domain.Visit) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal visit: %w", err)
	}
	pipe.Set(ctx, s.visitKey(v.ID), data, 0)
	if v.SleepUntil != nil && !v.TransitionExecuted {
		pipe.ZAdd(ctx, s.dueKey(), backend.Z{Score: float64(v.SleepUntil.UnixMilli()), Member: v.ID})
	} else {
		pipe.ZRem(ctx, s.dueKey(), v.ID)
	}
	return nil
}

// CreateVisit appends a visit; Seq comes from a global counter.
func (s *Store) CreateVisit(ctx context.Context, visit *domain.Visit) error {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate visit seq: %w", err)
	}

	visit.ID = uuid.NewString()
	visit.Seq = seq
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now().UTC()
	}
	visit.UpdatedAt = visit.CreatedAt

	pipe := s.client.TxPipeline()
	if err := s.writeVisit(ctx, pipe, visit); err != nil {
		return err
	}
	pipe.ZAdd(ctx, s.visitsKey(visit.UserID), backend.Z{Score: float64(seq), Member: visit.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save visit to redis: %w", err)
	}
	return nil
}

// UpdateVisit rewrites a stored visit.
func (s *Store) UpdateVisit(ctx context.Context, visit *domain.Visit) error {
	stored, err := s.getVisit(ctx, visit.ID)
	if err != nil {
		return err
	}
	visit.Seq = stored.Seq
	visit.CreatedAt = stored.CreatedAt
	visit.UpdatedAt = time.Now().UTC()

	pipe := s.client.TxPipeline()
	if err := s.writeVisit(ctx, pipe, visit); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update visit in redis: %w", err)
	}
	return nil
}

// AppendMessage pushes a message onto the user's list.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.client.RPush(ctx, s.messagesKey(msg.UserID), data).Err(); err != nil {
		return fmt.Errorf("failed to save message to redis: %w", err)
	}
	return nil
}

// DueVisits reads the due index up to now.
func (s *Store) DueVisits(ctx context.Context, now time.Time, limit int) ([]domain.DueVisit, error) {
	by := &backend.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due index: %w", err)
	}

	due := make([]domain.DueVisit, 0, len(ids))
	for _, id := range ids {
		v, err := s.getVisit(ctx, id)
		if errors.Is(err, domain.ErrVisitNotFound) {
			// Stale entry of a deleted user.
			s.client.ZRem(ctx, s.dueKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !v.Due(now) {
			continue
		}
		identity, err := s.client.Get(ctx, s.uidKey(v.UserID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve identity of visit %s: %w", id, err)
		}
		due = append(due, domain.DueVisit{VisitID: v.ID, Identity: identity})
	}
	return due, nil
}

// History returns a user's visits and messages in creation order.
func (s *Store) History(ctx context.Context, identity string) (*domain.History, error) {
	u, err := s.FindUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	h := &domain.History{User: *u}

	ids, err := s.client.ZRange(ctx, s.visitsKey(u.ID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read visit index: %w", err)
	}
	for _, id := range ids {
		v, err := s.getVisit(ctx, id)
		if err != nil {
			return nil, err
		}
		h.Visits = append(h.Visits, *v)
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(u.ID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		h.Messages = append(h.Messages, m)
	}
	return h, nil
}

// DeleteUser removes every key of a user.
func (s *Store) DeleteUser(ctx context.Context, identity string) error {
	u, err := s.FindUser(ctx, identity)
	if err != nil {
		return err
	}
	ids, err := s.client.ZRange(ctx, s.visitsKey(u.ID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read visit index: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.visitKey(id))
		pipe.ZRem(ctx, s.dueKey(), id)
	}
	pipe.Del(ctx, s.visitsKey(u.ID), s.messagesKey(u.ID), s.uidKey(u.ID), s.userKey(identity))
	pipe.ZRem(ctx, s.usersKey(), identity)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete user from redis: %w", err)
	}
	return nil
}

// ListUsers returns every user ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	identities, err := s.client.ZRange(ctx, s.usersKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]domain.User, 0, len(identities))
	for _, identity := range identities {
		u, err := s.FindUser(ctx, identity)
		if errors.Is(err, domain.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
