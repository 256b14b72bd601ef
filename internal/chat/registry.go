// Package chat implements direct and group conversations and the messages
// exchanged in them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"animehub-be/internal/apperr"
	"animehub-be/internal/models"
	"animehub-be/internal/store"

	"github.com/google/uuid"
)

// Conversation is the kind-independent view of a direct or group chat.
type Conversation struct {
	Ref           models.ConversationRef
	Members       []uuid.UUID
	AdminID       uuid.UUID
	LastMessageID *uuid.UUID
}

func (c *Conversation) HasMember(id uuid.UUID) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Receiver returns the other member of a direct conversation, or uuid.Nil for
// groups.
func (c *Conversation) Receiver(sender uuid.UUID) uuid.UUID {
	if c.Ref.Kind != models.KindDirect {
		return uuid.Nil
	}
	for _, m := range c.Members {
		if m != sender {
			return m
		}
	}
	return uuid.Nil
}

// Source resolves conversations of a single kind.
type Source interface {
	Lookup(ctx context.Context, id uuid.UUID) (*Conversation, error)
	SetLastMessage(ctx context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error
}

type Registry struct {
	sources map[models.ConversationKind]Source
}

func NewRegistry(directs store.Directs, groups store.Groups) *Registry {
	r := &Registry{sources: map[models.ConversationKind]Source{}}
	r.Register(models.KindDirect, directSource{directs})
	r.Register(models.KindGroup, groupSource{groups})
	return r
}

func (r *Registry) Register(kind models.ConversationKind, src Source) {
	r.sources[kind] = src
}

func (r *Registry) source(kind models.ConversationKind) (Source, error) {
	src, ok := r.sources[kind]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown conversation kind %q", kind))
	}
	return src, nil
}

// Lookup resolves ref, returning a not_found error when it does not exist.
func (r *Registry) Lookup(ctx context.Context, ref models.ConversationRef) (*Conversation, error) {
	if ref.ID == uuid.Nil {
		return nil, apperr.Validation("invalid conversation id")
	}
	src, err := r.source(ref.Kind)
	if err != nil {
		return nil, err
	}
	conv, err := src.Lookup(ctx, ref.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load conversation", err)
	}
	return conv, nil
}

func (r *Registry) SetLastMessage(ctx context.Context, ref models.ConversationRef, msgID *uuid.UUID, at time.Time) error {
	src, err := r.source(ref.Kind)
	if err != nil {
		return err
	}
	return src.SetLastMessage(ctx, ref.ID, msgID, at)
}

// ParseKind accepts the kind names used on the wire. An empty kind means a
// direct conversation.
func ParseKind(s string) (models.ConversationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct", "directmessage":
		return models.KindDirect, nil
	case "group", "groupchat":
		return models.KindGroup, nil
	}
	return "", apperr.Validation(fmt.Sprintf("unknown conversation kind %q", s))
}

// ParseRef builds a reference from wire values.
func ParseRef(kind, id string) (models.ConversationRef, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return models.ConversationRef{}, err
	}
	uid, err := ParseID(id, "conversation")
	if err != nil {
		return models.ConversationRef{}, err
	}
	return models.ConversationRef{Kind: k, ID: uid}, nil
}

// ParseID parses a UUID, naming what in the validation error.
func ParseID(s, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apperr.Validation("invalid " + what + " id")
	}
	return id, nil
}

type directSource struct{ directs store.Directs }

func (s directSource) Lookup(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	d, err := s.directs.GetDirect(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		Ref:           models.DirectRef(d.ID),
		Members:       d.Members(),
		LastMessageID: d.LastMessageID,
	}, nil
}

func (s directSource) SetLastMessage(ctx context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error {
	return s.directs.SetDirectLastMessage(ctx, id, msgID, at)
}

type groupSource struct{ groups store.Groups }

func (s groupSource) Lookup(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	g, err := s.groups.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return groupConversation(g), nil
}

func groupConversation(g *models.GroupChat) *Conversation {
	return &Conversation{
		Ref:           models.GroupRef(g.ID),
		Members:       g.MemberIDs(),
		AdminID:       g.AdminID,
		LastMessageID: g.LastMessageID,
	}
}

func (s groupSource) SetLastMessage(ctx context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error {
	return s.groups.SetGroupLastMessage(ctx, id, msgID, at)
}
