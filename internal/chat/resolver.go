package chat

import (
	"context"
	"errors"
	"time"

	"animehub-be/internal/apperr"
	"animehub-be/internal/models"
	"animehub-be/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DirectView is a direct conversation as returned to one of its members.
type DirectView struct {
	ID          uuid.UUID               `json:"id"`
	Kind        models.ConversationKind `json:"kind"`
	Members     []models.PublicProfile  `json:"members"`
	OtherUser   *models.PublicProfile   `json:"otherUser,omitempty"`
	LastMessage *models.Message         `json:"lastMessage"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

type Resolver struct {
	users    store.Users
	directs  store.Directs
	messages store.Messages
	registry *Registry
	log      *zap.Logger
}

func NewResolver(users store.Users, directs store.Directs, messages store.Messages, registry *Registry, log *zap.Logger) *Resolver {
	return &Resolver{users: users, directs: directs, messages: messages, registry: registry, log: log}
}

// GetOrCreateDirect returns the direct conversation between userA and userB,
// creating it on first contact. The second return value reports whether it
// was created by this call.
func (r *Resolver) GetOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (*DirectView, bool, error) {
	if userA == uuid.Nil || userB == uuid.Nil {
		return nil, false, apperr.Validation("invalid user id")
	}
	if userA == userB {
		return nil, false, apperr.Validation("cannot start a conversation with yourself")
	}

	users, err := r.users.GetUsers(ctx, []uuid.UUID{userA, userB})
	if err != nil {
		return nil, false, apperr.Internal("failed to load users", err)
	}
	if _, ok := users[userB]; !ok {
		return nil, false, apperr.NotFound("user not found")
	}
	if _, ok := users[userA]; !ok {
		return nil, false, apperr.NotFound("user not found")
	}

	low, high := models.NormalizePair(userA, userB)
	d, err := r.directs.FindDirect(ctx, low, high)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		d = models.NewDirectMessage(userA, userB)
		err = r.directs.CreateDirect(ctx, d)
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race with a concurrent create; the unique pair index
			// guarantees the winner is the only row.
			d, err = r.directs.FindDirect(ctx, low, high)
		} else if err == nil {
			created = true
		}
		if err != nil {
			return nil, false, apperr.Internal("failed to create conversation", err)
		}
	default:
		return nil, false, apperr.Internal("failed to load conversation", err)
	}

	view := r.directView(d, userA, users, nil)
	if d.LastMessageID != nil {
		last, err := r.messages.GetMessage(ctx, *d.LastMessageID)
		if err == nil {
			view.LastMessage = last
		}
	}
	if created {
		r.log.Info("direct conversation created", zap.String("conversation_id", d.ID.String()))
	}
	return view, created, nil
}

func (r *Resolver) directView(d *models.DirectMessage, viewer uuid.UUID, users map[uuid.UUID]models.User, last map[uuid.UUID]models.Message) *DirectView {
	v := &DirectView{
		ID:        d.ID,
		Kind:      models.KindDirect,
		Members:   make([]models.PublicProfile, 0, 2),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, id := range d.Members() {
		if u, ok := users[id]; ok {
			v.Members = append(v.Members, u.Public())
		}
	}
	if u, ok := users[d.Other(viewer)]; ok {
		p := u.Public()
		v.OtherUser = &p
	}
	if d.LastMessageID != nil {
		if m, ok := last[*d.LastMessageID]; ok {
			v.LastMessage = &m
		}
	}
	return v
}

// ListConversations returns the user's direct conversations, most recently
// active first, each carrying the other member's public profile.
func (r *Resolver) ListConversations(ctx context.Context, userID uuid.UUID) ([]DirectView, error) {
	directs, err := r.directs.ListDirects(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list conversations", err)
	}

	userIDs := []uuid.UUID{userID}
	var lastIDs []uuid.UUID
	for _, d := range directs {
		userIDs = append(userIDs, d.Other(userID))
		if d.LastMessageID != nil {
			lastIDs = append(lastIDs, *d.LastMessageID)
		}
	}
	users, err := r.users.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, apperr.Internal("failed to load users", err)
	}
	last, err := r.messages.GetMessages(ctx, lastIDs)
	if err != nil {
		return nil, apperr.Internal("failed to load last messages", err)
	}

	out := make([]DirectView, 0, len(directs))
	for i := range directs {
		out = append(out, *r.directView(&directs[i], userID, users, last))
	}
	return out, nil
}

// Authorize resolves ref and checks that userID is one of its members.
func (r *Resolver) Authorize(ctx context.Context, ref models.ConversationRef, userID uuid.UUID) (*Conversation, error) {
	conv, err := r.registry.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(userID) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}

func (r *Resolver) IsParticipant(ctx context.Context, ref models.ConversationRef, userID uuid.UUID) (bool, error) {
	_, err := r.Authorize(ctx, ref, userID)
	switch {
	case err == nil:
		return true, nil
	case apperr.Is(err, apperr.KindForbidden), apperr.Is(err, apperr.KindNotFound):
		return false, nil
	}
	return false, err
}
