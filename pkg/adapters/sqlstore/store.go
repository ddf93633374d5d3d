// Package sqlstore implements ports.VisitStore on database/sql.
//
// SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq) are supported. The
// schema is embedded per dialect and applied on open.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

//go:embed migrations_postgres.sql
var postgresMigrations string

// Dialect selects the SQL driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// Connection pool configuration for Postgres.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

// Opts holds configuration options for the store.
type Opts struct {
	DSN    string
	Logger *slog.Logger
}

// Option defines a configuration option for the store.
type Option func(*Opts)

// WithDSN sets the connection string. For SQLite it is a file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithLogger sets the logger for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Opts) { o.Logger = logger }
}

// Store is a SQL-backed visit store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// New opens a database of the given dialect and applies the schema.
func New(dialect Dialect, opts ...Option) (*Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	switch dialect {
	case SQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case Postgres:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	cfg.Logger.Debug("Opening database", "dialect", dialect)
	db, err := sql.Open(string(dialect), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		// SQLite allows a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}

	store, err := NewFromDB(db, dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromDB wraps an open database and applies the schema.
func NewFromDB(db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrations := sqliteMigrations
	if dialect == Postgres {
		migrations = postgresMigrations
	}
	if _, err := db.Exec(migrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	cfg.Logger.Debug("Database migrations applied", "dialect", dialect)

	return &Store{db: db, dialect: dialect, logger: cfg.Logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// FindUser looks a user up by identity.
func (s *Store) FindUser(ctx context.Context, identity string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, identity, created_at FROM users WHERE identity = ?`), identity,
	).Scan(&u.ID, &u.Identity, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

// CreateUser registers an identity, returning the existing user if present.
func (s *Store) CreateUser(ctx context.Context, identity string) (*domain.User, error) {
	if u, err := s.FindUser(ctx, identity); err == nil {
		return u, nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	u := &domain.User{ID: uuid.NewString(), Identity: identity, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO users (id, identity, created_at) VALUES (?, ?, ?)`),
		u.ID, u.Identity, u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user %s: %w", identity, err)
	}
	s.logger.Debug("User created", "identity", identity, "user_id", u.ID)
	return u, nil
}

const visitColumns = `seq, id, user_id, current_node, next_node, message_ids, state, sleep_until, transition_executed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*domain.Visit, error) {
	var (
		v          domain.Visit
		messageIDs string
		state      string
		sleepUntil sql.NullInt64
	)
	err := row.Scan(&v.Seq, &v.ID, &v.UserID, &v.CurrentNode, &v.NextNode,
		&messageIDs, &state, &sleepUntil, &v.TransitionExecuted, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messageIDs), &v.MessageIDs); err != nil {
		return nil, fmt.Errorf("failed to decode message ids: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &v.State); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if sleepUntil.Valid {
		t := time.Unix(0, sleepUntil.Int64).UTC()
		v.SleepUntil = &t
	}
	return &v, nil
}

// sleepUntil stores timers as unix nanoseconds so due comparisons are
// numeric in every dialect.
func sleepUntil(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func encodeVisit(v *domain.Visit) (string, string, error) {
	ids, err := json.Marshal(v.MessageIDs)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode message ids: %w", err)
	}
	state, err := json.Marshal(v.State)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode state: %w", err)
	}
	return string(ids), string(state), nil
}

// LatestVisit returns the user's newest visit.
func (s *Store) LatestVisit(ctx context.Context, userID string) (*domain.Visit, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+visitColumns+` FROM visits WHERE user_id = ? ORDER BY seq DESC LIMIT 1`), userID)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVisitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest visit: %w", err)
	}
	return v, nil
}

// CreateVisit inserts a visit; the database assigns Seq.
func (s *Store) CreateVisit(ctx context.Context, visit *domain.Visit) error {
	ids, state, err := encodeVisit(visit)
	if err != nil {
		return err
	}
	visit.ID = uuid.NewString()
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now().UTC()
	}
	visit.UpdatedAt = visit.CreatedAt

	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO visits (id, user_id, current_node, next_node, message_ids, state, sleep_until, transition_executed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`),
		visit.ID, visit.UserID, visit.CurrentNode, visit.NextNode, ids, state,
		sleepUntil(visit.SleepUntil), visit.TransitionExecuted, visit.CreatedAt, visit.UpdatedAt,
	).Scan(&visit.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert visit: %w", err)
	}
	s.logger.Debug("Visit created", "visit_id", visit.ID, "seq", visit.Seq, "node", visit.CurrentNode)
	return nil
}

// UpdateVisit rewrites the mutable fields of a visit.
func (s *Store) UpdateVisit(ctx context.Context, visit *domain.Visit) error {
	ids, state, err := encodeVisit(visit)
	if err != nil {
		return err
	}
	visit.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE visits
		SET current_node = ?, next_node = ?, message_ids = ?, state = ?, sleep_until = ?, transition_executed = ?, updated_at = ?
		WHERE id = ?`),
		visit.CurrentNode, visit.NextNode, ids, state,
		sleepUntil(visit.SleepUntil), visit.TransitionExecuted, visit.UpdatedAt, visit.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update visit %s: %w", visit.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update visit %s: %w", visit.ID, err)
	}
	if n == 0 {
		return domain.ErrVisitNotFound
	}
	return nil
}

// AppendMessage inserts a message.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (id, user_id, visit_id, direction, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.UserID, msg.VisitID, string(msg.Direction), msg.Body, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// DueVisits lists expired timers whose transition has not run.
func (s *Store) DueVisits(ctx context.Context, now time.Time, limit int) ([]domain.DueVisit, error) {
	query := `
		SELECT v.id, u.identity
		FROM visits v JOIN users u ON u.id = v.user_id
		WHERE v.sleep_until IS NOT NULL AND v.sleep_until <= ? AND v.transition_executed = ?
		ORDER BY v.seq`
	args := []any{now.UnixNano(), false}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due visits: %w", err)
	}
	defer rows.Close()

	var due []domain.DueVisit
	for rows.Next() {
		var d domain.DueVisit
		if err := rows.Scan(&d.VisitID, &d.Identity); err != nil {
			return nil, fmt.Errorf("failed to scan due visit: %w", err)
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due visits: %w", err)
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

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+visitColumns+` FROM visits WHERE user_id = ? ORDER BY seq`), u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		h.Visits = append(h.Visits, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visits: %w", err)
	}

	msgRows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, visit_id, direction, body, created_at
		FROM messages WHERE user_id = ? ORDER BY seq`), u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer msgRows.Close()
	for msgRows.Next() {
		var m domain.Message
		var direction string
		if err := msgRows.Scan(&m.ID, &m.UserID, &m.VisitID, &direction, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Direction = domain.Direction(direction)
		h.Messages = append(h.Messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return h, nil
}

// DeleteUser removes a user and everything recorded for it in one transaction.
func (s *Store) DeleteUser(ctx context.Context, identity string) error {
	u, err := s.FindUser(ctx, identity)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM messages WHERE user_id = ?`,
		`DELETE FROM visits WHERE user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), u.ID); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", identity, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	s.logger.Debug("User deleted", "identity", identity)
	return nil
}

// ListUsers returns every user ordered by creation.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, identity, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Identity, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}
