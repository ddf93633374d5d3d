package ports

import (
	"context"
	"time"

	"github.com/aretw0/pitch/pkg/domain"
)

// VisitStore persists users, their visits and their messages.
// This is what lets a conversation resume across independent deliveries.
//
// Visits of a user are totally ordered by Seq, which the store assigns on
// creation. The visit with the highest Seq is the user's current state.
type VisitStore interface {
	// FindUser returns the user with the given identity.
	// Returns domain.ErrUserNotFound if none exists.
	FindUser(ctx context.Context, identity string) (*domain.User, error)

	// CreateUser registers a new identity and returns the stored user.
	CreateUser(ctx context.Context, identity string) (*domain.User, error)

	// LatestVisit returns the most recently created visit of a user.
	// Returns domain.ErrVisitNotFound if the user has none.
	LatestVisit(ctx context.Context, userID string) (*domain.Visit, error)

	// CreateVisit appends a visit. It assigns ID and Seq, and CreatedAt when zero.
	CreateVisit(ctx context.Context, visit *domain.Visit) error

	// UpdateVisit overwrites the mutable fields of an existing visit.
	// Returns domain.ErrVisitNotFound for an unknown ID.
	UpdateVisit(ctx context.Context, visit *domain.Visit) error

	// AppendMessage stores a message. It assigns ID, and CreatedAt when zero.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// DueVisits lists visits whose timer expired at or before now and whose
	// transition has not run yet, oldest first. limit <= 0 means no limit.
	DueVisits(ctx context.Context, now time.Time, limit int) ([]domain.DueVisit, error)

	// History returns a user with all visits and messages, oldest first.
	// Returns domain.ErrUserNotFound if none exists.
	History(ctx context.Context, identity string) (*domain.History, error)

	// DeleteUser removes a user together with its visits and messages.
	// Returns domain.ErrUserNotFound if none exists.
	DeleteUser(ctx context.Context, identity string) error

	// ListUsers returns every known user.
	ListUsers(ctx context.Context) ([]domain.User, error)
}
