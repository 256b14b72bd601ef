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
	"animehub-be/internal/upload"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize  = 50
	MaxPageSize      = 100
	MaxContentLength = 5000
)

// Publisher is told about every change to a conversation after it has been
// stored.
type Publisher interface {
	MessageCreated(conv *Conversation, msg *models.Message)
	MessageRead(conv *Conversation, msg *models.Message)
	MessageDeleted(conv *Conversation, msgID uuid.UUID)
	// MembersChanged carries the conversation with its new member list.
	MembersChanged(conv *Conversation)
	ConversationClosed(ref models.ConversationRef)
}

type nopPublisher struct{}

func (nopPublisher) MessageCreated(*Conversation, *models.Message) {}
func (nopPublisher) MessageRead(*Conversation, *models.Message) {}
func (nopPublisher) MessageDeleted(*Conversation, uuid.UUID) {}
func (nopPublisher) MembersChanged(*Conversation) {}
func (nopPublisher) ConversationClosed(models.ConversationRef) {}

// Files stores and removes uploaded attachments. *upload.Store satisfies it.
type Files interface {
	Save(ctx context.Context, c upload.Category, owner string, f *upload.File) (string, error)
	Remove(ctx context.Context, path string) error
}

type SendInput struct {
	Conversation models.ConversationRef
	SenderID     uuid.UUID
	Content      string
	Attachment   *upload.File
}

type MessagePage struct {
	Messages    []models.Message `json:"messages"`
	CurrentPage int              `json:"currentPage"`
	HasMore     bool             `json:"hasMore"`
}

type MessageService struct {
	users    store.Users
	messages store.Messages
	registry *Registry
	resolver *Resolver
	files    Files
	pub      Publisher
	log      *zap.Logger
}

func NewMessageService(users store.Users, messages store.Messages, registry *Registry, resolver *Resolver, files Files, log *zap.Logger) *MessageService {
	return &MessageService{
		users:    users,
		messages: messages,
		registry: registry,
		resolver: resolver,
		files:    files,
		pub:      nopPublisher{},
		log:      log,
	}
}

// SetPublisher wires the realtime layer in after construction.
func (s *MessageService) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.pub = p
}

// ClampPage normalizes pagination input: page >= 1, 1 <= size <= MaxPageSize.
// Zero values select the defaults.
func ClampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size == 0:
		size = DefaultPageSize
	case size < 1:
		size = 1
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// Send validates, authorizes and stores a message, repoints the
// conversation's last message and publishes the stored record.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if in.Conversation.ID == uuid.Nil {
		return nil, apperr.Validation("invalid conversation id")
	}
	if strings.TrimSpace(in.Content) == "" && in.Attachment == nil {
		return nil, apperr.Validation("message content or attachment is required")
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return nil, apperr.Validation("message content is too long")
	}

	conv, err := s.resolver.Authorize(ctx, in.Conversation, in.SenderID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:         in.SenderID,
		ConversationKind: conv.Ref.Kind,
		ConversationID:   conv.Ref.ID,
		Content:          in.Content,
		Status:           models.StatusSent,
		ReadBy:           []uuid.UUID{in.SenderID},
	}
	if in.Attachment != nil {
		url, err := s.files.Save(ctx, upload.General, in.SenderID.String(), in.Attachment)
		if err != nil {
			return nil, err
		}
		msg.AttachmentURL = &url
	}

	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		if msg.HasAttachment() {
			s.removeAttachment(ctx, *msg.AttachmentURL)
		}
		return nil, apperr.Internal("failed to save message", err)
	}

	if err := s.registry.SetLastMessage(ctx, conv.Ref, &msg.ID, msg.CreatedAt); err != nil {
		s.log.Error("failed to update last message",
			zap.String("conversation", conv.Ref.String()),
			zap.String("message_id", msg.ID.String()),
			zap.Error(err))
	} else {
		conv.LastMessageID = &msg.ID
	}

	s.attachSenders(ctx, []*models.Message{msg})
	s.pub.MessageCreated(conv, msg)
	return msg, nil
}

// List returns one page of the conversation in chronological order. The
// store is read newest first and the page is reversed before returning.
func (s *MessageService) List(ctx context.Context, ref models.ConversationRef, requesterID uuid.UUID, page, pageSize int) (*MessagePage, error) {
	page, pageSize = ClampPage(page, pageSize)
	if _, err := s.resolver.Authorize(ctx, ref, requesterID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListMessages(ctx, ref, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperr.Internal("failed to list messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	ptrs := make([]*models.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	s.attachSenders(ctx, ptrs)

	if msgs == nil {
		msgs = []models.Message{}
	}
	return &MessagePage{Messages: msgs, CurrentPage: page, HasMore: len(msgs) == pageSize}, nil
}

// MarkRead adds userID to the message's read-set and sets its status to read.
// Repeated calls leave a single entry for the user.
func (s *MessageService) MarkRead(ctx context.Context, messageID, userID uuid.UUID) (*models.Message, error) {
	if messageID == uuid.Nil {
		return nil, apperr.Validation("invalid message id")
	}
	if err := s.messages.MarkRead(ctx, messageID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Internal("failed to mark message as read", err)
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, apperr.Internal("failed to load message", err)
	}
	s.attachSenders(ctx, []*models.Message{msg})

	if conv, err := s.registry.Lookup(ctx, msg.Ref()); err == nil {
		s.pub.MessageRead(conv, msg)
	}
	return msg, nil
}

// Delete removes a message on behalf of its sender. Attachment cleanup is
// best effort. If the message was the conversation's last message the
// pointer moves to the newest surviving message, or is cleared.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID uuid.UUID) error {
	if messageID == uuid.Nil {
		return apperr.Validation("invalid message id")
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return apperr.Internal("failed to load message", err)
	}
	if msg.SenderID != requesterID {
		return apperr.Forbidden("only the sender can delete this message")
	}

	if err := s.messages.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("message not found")
		}
		return apperr.Internal("failed to delete message", err)
	}
	if msg.HasAttachment() {
		s.removeAttachment(ctx, *msg.AttachmentURL)
	}

	conv, err := s.registry.Lookup(ctx, msg.Ref())
	if err != nil {
		s.log.Warn("deleted message belongs to a missing conversation",
			zap.String("conversation", msg.Ref().String()), zap.Error(err))
		return nil
	}
	if conv.LastMessageID != nil && *conv.LastMessageID == messageID {
		if err := s.recomputeLastMessage(ctx, conv); err != nil {
			s.log.Error("failed to recompute last message",
				zap.String("conversation", conv.Ref.String()), zap.Error(err))
		}
	}
	s.pub.MessageDeleted(conv, messageID)
	return nil
}

func (s *MessageService) recomputeLastMessage(ctx context.Context, conv *Conversation) error {
	latest, err := s.messages.LatestMessage(ctx, conv.Ref)
	switch {
	case errors.Is(err, store.ErrNotFound):
		conv.LastMessageID = nil
		return s.registry.SetLastMessage(ctx, conv.Ref, nil, time.Time{})
	case err != nil:
		return err
	}
	conv.LastMessageID = &latest.ID
	return s.registry.SetLastMessage(ctx, conv.Ref, &latest.ID, time.Time{})
}

func (s *MessageService) removeAttachment(ctx context.Context, path string) {
	if err := s.files.Remove(ctx, path); err != nil {
		s.log.Warn("failed to remove attachment", zap.String("path", path), zap.Error(err))
	}
}

func (s *MessageService) attachSenders(ctx context.Context, msgs []*models.Message) {
	if len(msgs) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		s.log.Warn("failed to load message senders", zap.Error(err))
		return
	}
	for _, m := range msgs {
		if u, ok := users[m.SenderID]; ok {
			p := u.Public()
			m.Sender = &p
		}
	}
}
