// Package memstore is an in-memory store.Repository. It backs DB_DRIVER=memory
// for local runs and is what the service and handler tests use.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"animehub-be/internal/models"
	"animehub-be/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	seq      int64
	users    map[uuid.UUID]models.User
	directs  map[uuid.UUID]models.DirectMessage
	groups   map[uuid.UUID]models.GroupChat
	messages map[uuid.UUID]messageRow
	reviews  map[uuid.UUID]models.Review
}

type messageRow struct {
	msg models.Message
	seq int64
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		now:      time.Now,
		users:    map[uuid.UUID]models.User{},
		directs:  map[uuid.UUID]models.DirectMessage{},
		groups:   map[uuid.UUID]models.GroupChat{},
		messages: map[uuid.UUID]messageRow{},
		reviews:  map[uuid.UUID]models.Review{},
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userConflict(u) {
		return store.ErrDuplicate
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = cloneUser(*u)
	return nil
}

func (s *Store) userConflict(u *models.User) bool {
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		if other.Username == u.Username || other.Email == u.Email {
			return true
		}
	}
	return false
}

func cloneUser(u models.User) models.User {
	if u.ProfilePicture != nil {
		p := *u.ProfilePicture
		u.ProfilePicture = &p
	}
	return u
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u = cloneUser(u)
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			u = cloneUser(u)
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUsers(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = cloneUser(u)
		}
	}
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	if s.userConflict(u) {
		return store.ErrDuplicate
	}
	u.UpdatedAt = s.now()
	s.users[u.ID] = cloneUser(*u)
	return nil
}

func (s *Store) SearchUsers(_ context.Context, prefix string, exclude uuid.UUID, limit int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix = strings.ToLower(prefix)
	var out []models.User
	for _, u := range s.users {
		if u.ID != exclude && strings.HasPrefix(strings.ToLower(u.Username), prefix) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func (s *Store) CreateDirect(_ context.Context, d *models.DirectMessage) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.directs {
		if other.MemberLow == d.MemberLow && other.MemberHigh == d.MemberHigh {
			return store.ErrDuplicate
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	c := *d
	c.LastMessageID = cloneID(d.LastMessageID)
	s.directs[d.ID] = c
	return nil
}

func (s *Store) GetDirect(_ context.Context, id uuid.UUID) (*models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.directs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	d.LastMessageID = cloneID(d.LastMessageID)
	return &d, nil
}

func (s *Store) FindDirect(_ context.Context, low, high uuid.UUID) (*models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.directs {
		if d.MemberLow == low && d.MemberHigh == high {
			d.LastMessageID = cloneID(d.LastMessageID)
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListDirects(_ context.Context, userID uuid.UUID) ([]models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DirectMessage
	for _, d := range s.directs {
		if d.HasMember(userID) {
			d.LastMessageID = cloneID(d.LastMessageID)
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) SetDirectLastMessage(_ context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.directs[id]
	if !ok {
		return store.ErrNotFound
	}
	d.LastMessageID = cloneID(msgID)
	if !at.IsZero() {
		d.UpdatedAt = at
	}
	s.directs[id] = d
	return nil
}

func cloneGroup(g models.GroupChat) models.GroupChat {
	g.Members = append([]models.GroupMember(nil), g.Members...)
	g.LastMessageID = cloneID(g.LastMessageID)
	return g
}

func (s *Store) CreateGroup(_ context.Context, g *models.GroupChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	for i := range g.Members {
		g.Members[i].GroupID = g.ID
	}
	now := s.now()
	g.CreatedAt, g.UpdatedAt = now, now
	s.groups[g.ID] = cloneGroup(*g)
	return nil
}

func (s *Store) GetGroup(_ context.Context, id uuid.UUID) (*models.GroupChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	g = cloneGroup(g)
	return &g, nil
}

func (s *Store) ListGroups(_ context.Context, userID uuid.UUID) ([]models.GroupChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.GroupChat
	for _, g := range s.groups {
		if g.HasMember(userID) {
			out = append(out, cloneGroup(g))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) UpdateGroup(_ context.Context, g *models.GroupChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.groups[g.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Name = g.Name
	cur.Members = append([]models.GroupMember(nil), g.Members...)
	cur.UpdatedAt = s.now()
	g.UpdatedAt = cur.UpdatedAt
	s.groups[g.ID] = cur
	return nil
}

func (s *Store) DeleteGroup(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) SetGroupLastMessage(_ context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return store.ErrNotFound
	}
	g.LastMessageID = cloneID(msgID)
	if !at.IsZero() {
		g.UpdatedAt = at
	}
	s.groups[id] = g
	return nil
}

func cloneMessage(m models.Message) models.Message {
	m.ReadBy = append([]uuid.UUID(nil), m.ReadBy...)
	m.Reads = nil
	if m.AttachmentURL != nil {
		a := *m.AttachmentURL
		m.AttachmentURL = &a
	}
	if m.Sender != nil {
		p := *m.Sender
		m.Sender = &p
	}
	return m
}

func (s *Store) CreateMessage(_ context.Context, m *models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = models.StatusSent
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	s.seq++
	c := cloneMessage(*m)
	c.Sender = nil
	s.messages[m.ID] = messageRow{msg: c, seq: s.seq}
	return nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m := cloneMessage(row.msg)
	return &m, nil
}

func (s *Store) GetMessages(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]models.Message, len(ids))
	for _, id := range ids {
		if row, ok := s.messages[id]; ok {
			out[id] = cloneMessage(row.msg)
		}
	}
	return out, nil
}

// newestFirst returns the rows of ref ordered by creation time, newest first.
func (s *Store) newestFirst(ref models.ConversationRef) []messageRow {
	var rows []messageRow
	for _, row := range s.messages {
		if row.msg.Ref() == ref {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.After(b.msg.CreatedAt)
		}
		return a.seq > b.seq
	})
	return rows
}

func (s *Store) ListMessages(_ context.Context, ref models.ConversationRef, limit, offset int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.newestFirst(ref)
	if offset >= len(rows) {
		return []models.Message{}, nil
	}
	rows = rows[offset:]
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.Message, len(rows))
	for i, row := range rows {
		out[i] = cloneMessage(row.msg)
	}
	return out, nil
}

func (s *Store) LatestMessage(_ context.Context, ref models.ConversationRef) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.newestFirst(ref)
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	m := cloneMessage(rows[0].msg)
	return &m, nil
}

func (s *Store) MarkRead(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	if !row.msg.IsReadBy(userID) {
		row.msg.ReadBy = append(row.msg.ReadBy, userID)
	}
	row.msg.Status = models.StatusRead
	row.msg.UpdatedAt = s.now()
	s.messages[id] = row
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *Store) DeleteConversationMessages(_ context.Context, ref models.ConversationRef) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var attachments []string
	for id, row := range s.messages {
		if row.msg.Ref() != ref {
			continue
		}
		if row.msg.HasAttachment() {
			attachments = append(attachments, *row.msg.AttachmentURL)
		}
		delete(s.messages, id)
	}
	sort.Strings(attachments)
	return attachments, nil
}

func (s *Store) CreateReview(_ context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	c.Author = ""
	s.reviews[r.ID] = c
	return nil
}

func (s *Store) GetReview(_ context.Context, id uuid.UUID) (*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) listReviews(keep func(models.Review) bool) []models.Review {
	var out []models.Review
	for _, r := range s.reviews {
		if keep != nil && !keep(r) {
			continue
		}
		if u, ok := s.users[r.UserID]; ok {
			r.Author = u.Username
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) ListReviews(context.Context) ([]models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReviews(nil), nil
}

func (s *Store) ListUserReviews(_ context.Context, userID uuid.UUID) ([]models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReviews(func(r models.Review) bool { return r.UserID == userID }), nil
}

func (s *Store) UpdateReview(_ context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; !ok {
		return store.ErrNotFound
	}
	r.UpdatedAt = s.now()
	c := *r
	c.Author = ""
	s.reviews[r.ID] = c
	return nil
}

func (s *Store) DeleteReview(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.reviews, id)
	return nil
}
