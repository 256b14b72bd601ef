// Package store holds the repository contracts shared by the services and
// their gorm-backed implementation.
package store

import (
	"context"
	"errors"
	"time"

	"animehub-be/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	// SearchUsers matches usernames starting with prefix, case-insensitively.
	SearchUsers(ctx context.Context, prefix string, exclude uuid.UUID, limit int) ([]models.User, error)
}

type Directs interface {
	CreateDirect(ctx context.Context, d *models.DirectMessage) error
	GetDirect(ctx context.Context, id uuid.UUID) (*models.DirectMessage, error)
	FindDirect(ctx context.Context, low, high uuid.UUID) (*models.DirectMessage, error)
	// ListDirects returns the user's conversations, most recently updated first.
	ListDirects(ctx context.Context, userID uuid.UUID) ([]models.DirectMessage, error)
	// SetDirectLastMessage repoints the last-message cache. A zero at leaves
	// updated_at alone.
	SetDirectLastMessage(ctx context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error
}

type Groups interface {
	CreateGroup(ctx context.Context, g *models.GroupChat) error
	// GetGroup loads the group with its members ordered by position.
	GetGroup(ctx context.Context, id uuid.UUID) (*models.GroupChat, error)
	ListGroups(ctx context.Context, userID uuid.UUID) ([]models.GroupChat, error)
	// UpdateGroup saves the name and replaces the member list.
	UpdateGroup(ctx context.Context, g *models.GroupChat) error
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	SetGroupLastMessage(ctx context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error
}

type Messages interface {
	// CreateMessage stores m together with its read-set.
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	GetMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Message, error)
	// ListMessages returns a page of the conversation, newest first.
	ListMessages(ctx context.Context, ref models.ConversationRef, limit, offset int) ([]models.Message, error)
	LatestMessage(ctx context.Context, ref models.ConversationRef) (*models.Message, error)
	// MarkRead adds userID to the read-set and flips the status to read.
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	// DeleteConversationMessages removes every message of ref and returns the
	// attachment paths that were referenced.
	DeleteConversationMessages(ctx context.Context, ref models.ConversationRef) ([]string, error)
}

type Reviews interface {
	CreateReview(ctx context.Context, r *models.Review) error
	GetReview(ctx context.Context, id uuid.UUID) (*models.Review, error)
	// ListReviews returns every review newest first, with Author filled in.
	ListReviews(ctx context.Context) ([]models.Review, error)
	ListUserReviews(ctx context.Context, userID uuid.UUID) ([]models.Review, error)
	UpdateReview(ctx context.Context, r *models.Review) error
	DeleteReview(ctx context.Context, id uuid.UUID) error
}

// Repository bundles every repository the application needs.
type Repository interface {
	Users
	Directs
	Groups
	Messages
	Reviews
}
