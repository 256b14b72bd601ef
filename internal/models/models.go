package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID             uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	Username       string    `gorm:"size:30;uniqueIndex;not null" json:"username"`
	Email          string    `gorm:"size:190;uniqueIndex;not null" json:"email"`
	PasswordHash   string    `gorm:"size:255;not null" json:"-"`
	ProfilePicture *string   `gorm:"size:255" json:"profilePicture"`
	Avatar         string    `gorm:"size:255;not null;default:''" json:"avatar"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// PublicProfile is the part of a user other users may see.
type PublicProfile struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	ProfilePicture string    `json:"profilePicture"`
	Avatar         string    `json:"avatar"`
}

func (u *User) Public() PublicProfile {
	p := PublicProfile{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.Avatar}
	if u.ProfilePicture != nil {
		p.ProfilePicture = *u.ProfilePicture
	}
	return p
}

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// ConversationRef points at either a DirectMessage or a GroupChat.
type ConversationRef struct {
	Kind ConversationKind `json:"kind"`
	ID   uuid.UUID        `json:"id"`
}

func DirectRef(id uuid.UUID) ConversationRef { return ConversationRef{Kind: KindDirect, ID: id} }
func GroupRef(id uuid.UUID) ConversationRef  { return ConversationRef{Kind: KindGroup, ID: id} }

func (r ConversationRef) String() string { return string(r.Kind) + ":" + r.ID.String() }

// DirectMessage is a two-party conversation. The members are stored as a
// normalized pair so the unique index covers both orderings.
type DirectMessage struct {
	ID            uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	MemberLow     uuid.UUID  `gorm:"type:char(36);not null;uniqueIndex:idx_direct_pair,priority:1" json:"-"`
	MemberHigh    uuid.UUID  `gorm:"type:char(36);not null;uniqueIndex:idx_direct_pair,priority:2;index" json:"-"`
	LastMessageID *uuid.UUID `gorm:"type:char(36)" json:"lastMessageId"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"index" json:"updatedAt"`
}

var ErrDirectMembers = errors.New("direct conversation must have exactly two distinct members")

// NormalizePair orders a and b so that the same two users always map to the
// same (low, high) pair.
func NormalizePair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if strings.Compare(a.String(), b.String()) > 0 {
		return b, a
	}
	return a, b
}

func NewDirectMessage(a, b uuid.UUID) *DirectMessage {
	low, high := NormalizePair(a, b)
	return &DirectMessage{MemberLow: low, MemberHigh: high}
}

func (d *DirectMessage) Members() []uuid.UUID { return []uuid.UUID{d.MemberLow, d.MemberHigh} }

func (d *DirectMessage) HasMember(id uuid.UUID) bool {
	return d.MemberLow == id || d.MemberHigh == id
}

// Other returns the member that is not id.
func (d *DirectMessage) Other(id uuid.UUID) uuid.UUID {
	if d.MemberLow == id {
		return d.MemberHigh
	}
	return d.MemberLow
}

func (d *DirectMessage) Validate() error {
	if d.MemberLow == uuid.Nil || d.MemberHigh == uuid.Nil || d.MemberLow == d.MemberHigh {
		return ErrDirectMembers
	}
	if low, _ := NormalizePair(d.MemberLow, d.MemberHigh); low != d.MemberLow {
		return ErrDirectMembers
	}
	return nil
}

func (d *DirectMessage) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d *DirectMessage) BeforeSave(*gorm.DB) error { return d.Validate() }

type GroupChat struct {
	ID            uuid.UUID     `gorm:"type:char(36);primaryKey" json:"id"`
	Name          string        `gorm:"size:100;not null" json:"name"`
	AdminID       uuid.UUID     `gorm:"type:char(36);not null;index" json:"adminId"`
	Members       []GroupMember `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
	LastMessageID *uuid.UUID    `gorm:"type:char(36)" json:"lastMessageId"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"index" json:"updatedAt"`
}

func (g *GroupChat) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// MemberIDs returns the members in their stored order.
func (g *GroupChat) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.UserID
	}
	return ids
}

func (g *GroupChat) HasMember(id uuid.UUID) bool {
	for _, m := range g.Members {
		if m.UserID == id {
			return true
		}
	}
	return false
}

// SetMembers replaces the member list, keeping ids in the given order.
func (g *GroupChat) SetMembers(ids []uuid.UUID) {
	g.Members = make([]GroupMember, len(ids))
	for i, id := range ids {
		g.Members[i] = GroupMember{GroupID: g.ID, UserID: id, Position: i}
	}
}

type GroupMember struct {
	GroupID  uuid.UUID `gorm:"type:char(36);primaryKey"`
	UserID   uuid.UUID `gorm:"type:char(36);primaryKey;index"`
	Position int       `gorm:"not null"`
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

type Message struct {
	ID               uuid.UUID        `gorm:"type:char(36);primaryKey" json:"id"`
	SenderID         uuid.UUID        `gorm:"type:char(36);not null;index" json:"senderId"`
	ConversationKind ConversationKind `gorm:"size:16;not null;index:idx_messages_conversation,priority:1" json:"conversationKind"`
	ConversationID   uuid.UUID        `gorm:"type:char(36);not null;index:idx_messages_conversation,priority:2" json:"conversationId"`
	Content          string           `gorm:"type:text;not null" json:"content"`
	AttachmentURL    *string          `gorm:"size:255" json:"attachmentUrl"`
	Status           MessageStatus    `gorm:"size:16;not null;default:sent" json:"status"`
	Reads            []MessageRead    `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	ReadBy           []uuid.UUID      `gorm:"-" json:"readBy"`
	Sender           *PublicProfile   `gorm:"-" json:"sender,omitempty"`
	CreatedAt        time.Time        `gorm:"index" json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

var ErrEmptyMessage = errors.New("message needs content or an attachment")

func (m *Message) Ref() ConversationRef {
	return ConversationRef{Kind: m.ConversationKind, ID: m.ConversationID}
}

func (m *Message) HasAttachment() bool { return m.AttachmentURL != nil && *m.AttachmentURL != "" }

func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" && !m.HasAttachment() {
		return ErrEmptyMessage
	}
	return nil
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return m.Validate()
}

// IsReadBy reports whether id is in the read-set.
func (m *Message) IsReadBy(id uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r == id {
			return true
		}
	}
	return false
}

type MessageRead struct {
	MessageID uuid.UUID `gorm:"type:char(36);primaryKey"`
	UserID    uuid.UUID `gorm:"type:char(36);primaryKey"`
	ReadAt    time.Time
}

type Review struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:char(36);not null;index" json:"userId"`
	Title     string    `gorm:"size:200;not null" json:"animeTitle"`
	Text      string    `gorm:"type:text;not null" json:"reviewText"`
	Rating    int       `gorm:"not null" json:"rating"`
	ImageURL  string    `gorm:"size:255;not null;default:''" json:"animeImageUrl"`
	Author    string    `gorm:"-" json:"username,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Review) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&User{},
		&DirectMessage{},
		&GroupChat{},
		&GroupMember{},
		&Message{},
		&MessageRead{},
		&Review{},
	}
}
