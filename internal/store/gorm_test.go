package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"animehub-be/internal/database"
	"animehub-be/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(gorm.ErrRecordNotFound), ErrNotFound)
	assert.ErrorIs(t, translate(gorm.ErrDuplicatedKey), ErrDuplicate)

	other := errors.New("bad connection")
	assert.Equal(t, other, translate(other))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50!%!_off!!`, escapeLike(`50%_off!`))
	assert.Equal(t, "kira", escapeLike("kira"))
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newSQLite opens a migrated sqlite database whose clock advances one
// millisecond per reading.
func newSQLite(t *testing.T) *Gorm {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "animehub.db") + "?_pragma=foreign_keys(1)"
	db, err := database.Open("sqlite", dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	var mu sync.Mutex
	tick := epoch
	db.NowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return NewGorm(db)
}

func createUser(t *testing.T, s *Gorm, name string) uuid.UUID {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u.ID
}

func createMessage(t *testing.T, s *Gorm, m *models.Message) *models.Message {
	t.Helper()
	if m.Status == "" {
		m.Status = models.StatusSent
	}
	if m.ReadBy == nil {
		m.ReadBy = []uuid.UUID{m.SenderID}
	}
	require.NoError(t, s.CreateMessage(context.Background(), m))
	return m
}

func countRows(t *testing.T, s *Gorm, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func TestGormUsers(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a := createUser(t, s, "alice")
	createUser(t, s, "albert")
	createUser(t, s, "al_x")
	b := createUser(t, s, "bob")

	err := s.CreateUser(ctx, &models.User{Username: "alice", Email: "other@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	u, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, a, u.ID)

	found, err := s.SearchUsers(ctx, "AL", b, 10)
	require.NoError(t, err)
	var names []string
	for _, u := range found {
		names = append(names, u.Username)
	}
	assert.Equal(t, []string{"al_x", "albert", "alice"}, names)

	found, err = s.SearchUsers(ctx, "al_", b, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "al_x", found[0].Username)

	found, err = s.SearchUsers(ctx, "al", a, 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	users, err := s.GetUsers(ctx, []uuid.UUID{a, b, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestGormDirectPairIsUnique(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a, b := createUser(t, s, "alice"), createUser(t, s, "bob")

	d := models.NewDirectMessage(a, b)
	require.NoError(t, s.CreateDirect(ctx, d))

	err := s.CreateDirect(ctx, models.NewDirectMessage(b, a))
	assert.ErrorIs(t, err, ErrDuplicate)

	low, high := models.NormalizePair(b, a)
	got, err := s.FindDirect(ctx, low, high)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = s.FindDirect(ctx, low, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDirect(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormSetLastMessage(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a, b, c := createUser(t, s, "alice"), createUser(t, s, "bob"), createUser(t, s, "carol")
	ab := models.NewDirectMessage(a, b)
	ac := models.NewDirectMessage(a, c)
	require.NoError(t, s.CreateDirect(ctx, ab))
	require.NoError(t, s.CreateDirect(ctx, ac))

	list, err := s.ListDirects(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ac.ID, list[0].ID)

	msgID := uuid.New()
	require.NoError(t, s.SetDirectLastMessage(ctx, ab.ID, &msgID, epoch.Add(time.Hour)))
	list, err = s.ListDirects(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, ab.ID, list[0].ID)
	require.NotNil(t, list[0].LastMessageID)
	assert.Equal(t, msgID, *list[0].LastMessageID)

	// clearing twice changes nothing the second time and still succeeds
	require.NoError(t, s.SetDirectLastMessage(ctx, ab.ID, nil, time.Time{}))
	require.NoError(t, s.SetDirectLastMessage(ctx, ab.ID, nil, time.Time{}))
	got, err := s.GetDirect(ctx, ab.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastMessageID)
	assert.True(t, got.UpdatedAt.Equal(epoch.Add(time.Hour)))

	assert.ErrorIs(t, s.SetDirectLastMessage(ctx, uuid.New(), &msgID, time.Time{}), ErrNotFound)
	assert.ErrorIs(t, s.SetGroupLastMessage(ctx, uuid.New(), nil, time.Time{}), ErrNotFound)
}

func TestGormMessagesNewestFirstWithIDTiebreak(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a := createUser(t, s, "alice")
	ref := models.DirectRef(uuid.New())
	same := epoch.Add(time.Minute)

	older := createMessage(t, s, &models.Message{SenderID: a, ConversationKind: ref.Kind, ConversationID: ref.ID, Content: "older", CreatedAt: epoch})
	second := createMessage(t, s, &models.Message{
		ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), SenderID: a,
		ConversationKind: ref.Kind, ConversationID: ref.ID, Content: "second", CreatedAt: same,
	})
	first := createMessage(t, s, &models.Message{
		ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), SenderID: a,
		ConversationKind: ref.Kind, ConversationID: ref.ID, Content: "first", CreatedAt: same,
	})
	createMessage(t, s, &models.Message{SenderID: a, ConversationKind: models.KindGroup, ConversationID: ref.ID, Content: "other kind"})

	msgs, err := s.ListMessages(ctx, ref, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []uuid.UUID{second.ID, first.ID, older.ID}, []uuid.UUID{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, []uuid.UUID{a}, msgs[0].ReadBy)

	msgs, err = s.ListMessages(ctx, ref, 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, first.ID, msgs[0].ID)

	latest, err := s.LatestMessage(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = s.LatestMessage(ctx, models.DirectRef(uuid.New()))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetMessages(ctx, []uuid.UUID{older.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "older", got[older.ID].Content)
}

func TestGormMarkRead(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a, b := createUser(t, s, "alice"), createUser(t, s, "bob")
	m := createMessage(t, s, &models.Message{SenderID: a, ConversationKind: models.KindDirect, ConversationID: uuid.New(), Content: "hello"})

	require.NoError(t, s.MarkRead(ctx, m.ID, b))
	// already read: the status update touches nothing and the read row conflicts
	require.NoError(t, s.MarkRead(ctx, m.ID, b))
	require.NoError(t, s.MarkRead(ctx, m.ID, a))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)
	assert.Equal(t, []uuid.UUID{a, b}, got.ReadBy)
	assert.Equal(t, int64(2), countRows(t, s, &models.MessageRead{}, "message_id = ?", m.ID))

	assert.ErrorIs(t, s.MarkRead(ctx, uuid.New(), b), ErrNotFound)
}

func TestGormDeleteMessage(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a := createUser(t, s, "alice")
	m := createMessage(t, s, &models.Message{SenderID: a, ConversationKind: models.KindDirect, ConversationID: uuid.New(), Content: "bye"})

	require.NoError(t, s.DeleteMessage(ctx, m.ID))
	assert.ErrorIs(t, s.DeleteMessage(ctx, m.ID), ErrNotFound)

	_, err := s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, countRows(t, s, &models.MessageRead{}, "message_id = ?", m.ID))
}

func TestGormDeleteConversationMessages(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a := createUser(t, s, "alice")
	ref, other := models.GroupRef(uuid.New()), models.GroupRef(uuid.New())
	pic, clip := "/uploads/messages/pic.png", "/uploads/messages/clip.mp4"

	createMessage(t, s, &models.Message{SenderID: a, ConversationKind: ref.Kind, ConversationID: ref.ID, Content: "text"})
	createMessage(t, s, &models.Message{SenderID: a, ConversationKind: ref.Kind, ConversationID: ref.ID, AttachmentURL: &pic})
	createMessage(t, s, &models.Message{SenderID: a, ConversationKind: ref.Kind, ConversationID: ref.ID, Content: "see", AttachmentURL: &clip})
	kept := createMessage(t, s, &models.Message{SenderID: a, ConversationKind: other.Kind, ConversationID: other.ID, Content: "stays"})

	attachments, err := s.DeleteConversationMessages(ctx, ref)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pic, clip}, attachments)

	msgs, err := s.ListMessages(ctx, ref, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, int64(1), countRows(t, s, &models.MessageRead{}, "message_id = ?", kept.ID))

	_, err = s.GetMessage(ctx, kept.ID)
	require.NoError(t, err)

	attachments, err = s.DeleteConversationMessages(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, attachments)
}

func TestGormGroupMembers(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a, b, c := createUser(t, s, "alice"), createUser(t, s, "bob"), createUser(t, s, "carol")

	g := &models.GroupChat{ID: uuid.New(), Name: "crew", AdminID: a}
	g.SetMembers([]uuid.UUID{b, a})
	require.NoError(t, s.CreateGroup(ctx, g))

	got, err := s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b, a}, got.MemberIDs())

	got.Name = "renamed"
	got.SetMembers([]uuid.UUID{c, a})
	require.NoError(t, s.UpdateGroup(ctx, got))

	got, err = s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, []uuid.UUID{c, a}, got.MemberIDs())

	// same name again only replaces the members
	got.SetMembers([]uuid.UUID{a})
	require.NoError(t, s.UpdateGroup(ctx, got))
	got, err = s.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, got.MemberIDs())

	list, err := s.ListGroups(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = s.ListGroups(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, list)

	missing := &models.GroupChat{ID: uuid.New(), Name: "ghost", AdminID: a}
	missing.SetMembers([]uuid.UUID{a})
	assert.ErrorIs(t, s.UpdateGroup(ctx, missing), ErrNotFound)
	assert.Zero(t, countRows(t, s, &models.GroupMember{}, "group_id = ?", missing.ID))

	require.NoError(t, s.DeleteGroup(ctx, g.ID))
	assert.ErrorIs(t, s.DeleteGroup(ctx, g.ID), ErrNotFound)
	_, err = s.GetGroup(ctx, g.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, countRows(t, s, &models.GroupMember{}, "group_id = ?", g.ID))
}

func TestGormReviews(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a, b := createUser(t, s, "alice"), createUser(t, s, "bob")

	first := &models.Review{UserID: a, Title: "Mushishi", Text: "quiet", Rating: 5}
	second := &models.Review{UserID: b, Title: "Monster", Text: "tense", Rating: 4}
	require.NoError(t, s.CreateReview(ctx, first))
	require.NoError(t, s.CreateReview(ctx, second))

	all, err := s.ListReviews(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, "bob", all[0].Author)
	assert.Equal(t, "alice", all[1].Author)

	mine, err := s.ListUserReviews(ctx, a)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Mushishi", mine[0].Title)

	first.Rating = 3
	require.NoError(t, s.UpdateReview(ctx, first))
	got, err := s.GetReview(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Rating)

	require.NoError(t, s.DeleteReview(ctx, first.ID))
	assert.ErrorIs(t, s.DeleteReview(ctx, first.ID), ErrNotFound)
	_, err = s.GetReview(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
