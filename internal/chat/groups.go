package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"animehub-be/internal/apperr"
	"animehub-be/internal/models"
	"animehub-be/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxGroupName = 100

type GroupView struct {
	ID          uuid.UUID               `json:"id"`
	Kind        models.ConversationKind `json:"kind"`
	Name        string                  `json:"name"`
	Admin       *models.PublicProfile   `json:"admin"`
	Members     []models.PublicProfile  `json:"members"`
	LastMessage *models.Message         `json:"lastMessage"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

// GroupUpdate carries the fields to change. Nil fields are left as they are.
type GroupUpdate struct {
	Name    *string
	Members []uuid.UUID
}

type GroupService struct {
	users    store.Users
	groups   store.Groups
	messages store.Messages
	files    Files
	pub      Publisher
	log      *zap.Logger
}

func NewGroupService(users store.Users, groups store.Groups, messages store.Messages, files Files, log *zap.Logger) *GroupService {
	return &GroupService{users: users, groups: groups, messages: messages, files: files, pub: nopPublisher{}, log: log}
}

// SetPublisher lets the realtime layer drop connections of removed members.
func (s *GroupService) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.pub = p
}

func normalizeGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("group name is required")
	}
	if utf8.RuneCountInString(name) > maxGroupName {
		return "", apperr.Validation("group name is too long")
	}
	return name, nil
}

// memberList dedups ids keeping first occurrence and makes sure admin is in
// the list.
func memberList(ids []uuid.UUID, admin uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	out := make([]uuid.UUID, 0, len(ids)+1)
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if !seen[admin] {
		out = append(out, admin)
	}
	return out
}

func (s *GroupService) requireUsers(ctx context.Context, ids []uuid.UUID) error {
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return apperr.Internal("failed to load users", err)
	}
	for _, id := range ids {
		if _, ok := users[id]; !ok {
			return apperr.Validation("unknown member " + id.String())
		}
	}
	return nil
}

// Create makes a group with adminID as its admin and a member.
func (s *GroupService) Create(ctx context.Context, adminID uuid.UUID, name string, members []uuid.UUID) (*GroupView, error) {
	name, err := normalizeGroupName(name)
	if err != nil {
		return nil, err
	}
	ids := memberList(members, adminID)
	if err := s.requireUsers(ctx, ids); err != nil {
		return nil, err
	}

	g := &models.GroupChat{ID: uuid.New(), Name: name, AdminID: adminID}
	g.SetMembers(ids)
	if err := s.groups.CreateGroup(ctx, g); err != nil {
		return nil, apperr.Internal("failed to create group chat", err)
	}
	s.log.Info("group chat created", zap.String("group_id", g.ID.String()), zap.Int("members", len(ids)))
	return s.view(ctx, g)
}

func (s *GroupService) List(ctx context.Context, userID uuid.UUID) ([]GroupView, error) {
	groups, err := s.groups.ListGroups(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list group chats", err)
	}
	out := make([]GroupView, 0, len(groups))
	for i := range groups {
		v, err := s.view(ctx, &groups[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *GroupService) load(ctx context.Context, id uuid.UUID) (*models.GroupChat, error) {
	if id == uuid.Nil {
		return nil, apperr.Validation("invalid group id")
	}
	g, err := s.groups.GetGroup(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("group chat not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load group chat", err)
	}
	return g, nil
}

func (s *GroupService) Get(ctx context.Context, id, userID uuid.UUID) (*GroupView, error) {
	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.HasMember(userID) {
		return nil, apperr.Forbidden("not a member of this group chat")
	}
	return s.view(ctx, g)
}

// Update renames the group or replaces its members. Only the admin may do it.
func (s *GroupService) Update(ctx context.Context, id, userID uuid.UUID, in GroupUpdate) (*GroupView, error) {
	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.AdminID != userID {
		return nil, apperr.Forbidden("only the group admin can change the group")
	}
	if in.Name != nil {
		name, err := normalizeGroupName(*in.Name)
		if err != nil {
			return nil, err
		}
		g.Name = name
	}
	if in.Members != nil {
		ids := memberList(in.Members, g.AdminID)
		if err := s.requireUsers(ctx, ids); err != nil {
			return nil, err
		}
		g.SetMembers(ids)
	}
	if err := s.groups.UpdateGroup(ctx, g); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("group chat not found")
		}
		return nil, apperr.Internal("failed to update group chat", err)
	}
	if in.Members != nil {
		s.pub.MembersChanged(groupConversation(g))
	}
	return s.view(ctx, g)
}

// Delete removes the group and its messages. Only the admin may do it.
func (s *GroupService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	g, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if g.AdminID != userID {
		return apperr.Forbidden("only the group admin can delete the group")
	}

	attachments, err := s.messages.DeleteConversationMessages(ctx, models.GroupRef(g.ID))
	if err != nil {
		return apperr.Internal("failed to delete group messages", err)
	}
	for _, p := range attachments {
		if err := s.files.Remove(ctx, p); err != nil {
			s.log.Warn("failed to remove attachment", zap.String("path", p), zap.Error(err))
		}
	}
	if err := s.groups.DeleteGroup(ctx, g.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("group chat not found")
		}
		return apperr.Internal("failed to delete group chat", err)
	}
	s.pub.ConversationClosed(models.GroupRef(g.ID))
	return nil
}

func (s *GroupService) view(ctx context.Context, g *models.GroupChat) (*GroupView, error) {
	ids := g.MemberIDs()
	users, err := s.users.GetUsers(ctx, append(ids, g.AdminID))
	if err != nil {
		return nil, apperr.Internal("failed to load users", err)
	}
	v := &GroupView{
		ID:        g.ID,
		Kind:      models.KindGroup,
		Name:      g.Name,
		Members:   make([]models.PublicProfile, 0, len(ids)),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
	for _, id := range ids {
		if u, ok := users[id]; ok {
			v.Members = append(v.Members, u.Public())
		}
	}
	if u, ok := users[g.AdminID]; ok {
		p := u.Public()
		v.Admin = &p
	}
	if g.LastMessageID != nil {
		if m, err := s.messages.GetMessage(ctx, *g.LastMessageID); err == nil {
			v.LastMessage = m
		}
	}
	return v, nil
}
