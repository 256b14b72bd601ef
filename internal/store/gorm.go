package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"animehub-be/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm implements Repository on top of a gorm connection. The connection must
// be opened with TranslateError so duplicate keys surface as
// gorm.ErrDuplicatedKey.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

var _ Repository = (*Gorm)(nil)

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

func (s *Gorm) CreateUser(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *Gorm) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Gorm) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Gorm) GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.User, error) {
	out := make(map[uuid.UUID]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *Gorm) UpdateUser(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Save(u).Error)
}

func (s *Gorm) SearchUsers(ctx context.Context, prefix string, exclude uuid.UUID, limit int) ([]models.User, error) {
	var users []models.User
	pattern := escapeLike(strings.ToLower(prefix)) + "%"
	err := s.db.WithContext(ctx).
		Where("LOWER(username) LIKE ? ESCAPE '!' AND id <> ?", pattern, exclude).
		Order("username asc").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// escapeLike quotes LIKE wildcards with '!', which every supported dialect
// accepts in an ESCAPE clause.
func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}

func (s *Gorm) CreateDirect(ctx context.Context, d *models.DirectMessage) error {
	return translate(s.db.WithContext(ctx).Create(d).Error)
}

func (s *Gorm) GetDirect(ctx context.Context, id uuid.UUID) (*models.DirectMessage, error) {
	var d models.DirectMessage
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *Gorm) FindDirect(ctx context.Context, low, high uuid.UUID) (*models.DirectMessage, error) {
	var d models.DirectMessage
	err := s.db.WithContext(ctx).
		Where("member_low = ? AND member_high = ?", low, high).
		First(&d).Error
	if err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *Gorm) ListDirects(ctx context.Context, userID uuid.UUID) ([]models.DirectMessage, error) {
	var out []models.DirectMessage
	err := s.db.WithContext(ctx).
		Where("member_low = ? OR member_high = ?", userID, userID).
		Order("updated_at desc").
		Find(&out).Error
	return out, err
}

func (s *Gorm) SetDirectLastMessage(ctx context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error {
	return s.setLastMessage(ctx, &models.DirectMessage{}, id, msgID, at)
}

func (s *Gorm) setLastMessage(ctx context.Context, model any, id uuid.UUID, msgID *uuid.UUID, at time.Time) error {
	cols := map[string]any{"last_message_id": msgID}
	if !at.IsZero() {
		cols["updated_at"] = at
	}
	db := s.db.WithContext(ctx)
	res := db.Model(model).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return exists(db, model, id)
	}
	return nil
}

// exists returns ErrNotFound unless a row of model has id. MySQL reports zero
// affected rows for updates that change nothing, so callers confirm with it.
func exists(db *gorm.DB, model any, id uuid.UUID) error {
	var n int64
	if err := db.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Gorm) CreateGroup(ctx context.Context, g *models.GroupChat) error {
	return translate(s.db.WithContext(ctx).Create(g).Error)
}

func orderedMembers(db *gorm.DB) *gorm.DB { return db.Order("position asc") }

func (s *Gorm) GetGroup(ctx context.Context, id uuid.UUID) (*models.GroupChat, error) {
	var g models.GroupChat
	err := s.db.WithContext(ctx).Preload("Members", orderedMembers).First(&g, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

func (s *Gorm) ListGroups(ctx context.Context, userID uuid.UUID) ([]models.GroupChat, error) {
	var out []models.GroupChat
	err := s.db.WithContext(ctx).
		Preload("Members", orderedMembers).
		Where("id IN (?)", s.db.Model(&models.GroupMember{}).Select("group_id").Where("user_id = ?", userID)).
		Order("updated_at desc").
		Find(&out).Error
	return out, err
}

func (s *Gorm) UpdateGroup(ctx context.Context, g *models.GroupChat) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GroupChat{}).Where("id = ?", g.ID).Updates(map[string]any{"name": g.Name})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := exists(tx, &models.GroupChat{}, g.ID); err != nil {
				return err
			}
		}
		if err := tx.Where("group_id = ?", g.ID).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}
		if len(g.Members) == 0 {
			return nil
		}
		return tx.Create(&g.Members).Error
	})
}

func (s *Gorm) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", id).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.GroupChat{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Gorm) SetGroupLastMessage(ctx context.Context, id uuid.UUID, msgID *uuid.UUID, at time.Time) error {
	return s.setLastMessage(ctx, &models.GroupChat{}, id, msgID, at)
}

func (s *Gorm) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := s.db.NowFunc()
	m.Reads = m.Reads[:0]
	for _, uid := range m.ReadBy {
		m.Reads = append(m.Reads, models.MessageRead{MessageID: m.ID, UserID: uid, ReadAt: now})
	}
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

func fillReadBy(m *models.Message) {
	m.ReadBy = make([]uuid.UUID, 0, len(m.Reads))
	for _, r := range m.Reads {
		m.ReadBy = append(m.ReadBy, r.UserID)
	}
}

func readsInOrder(db *gorm.DB) *gorm.DB { return db.Order("read_at asc") }

func (s *Gorm) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).Preload("Reads", readsInOrder).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	fillReadBy(&m)
	return &m, nil
}

func (s *Gorm) GetMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Message, error) {
	out := make(map[uuid.UUID]models.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Preload("Reads", readsInOrder).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i := range msgs {
		fillReadBy(&msgs[i])
		out[msgs[i].ID] = msgs[i]
	}
	return out, nil
}

func byConversation(db *gorm.DB, ref models.ConversationRef) *gorm.DB {
	return db.Where("conversation_kind = ? AND conversation_id = ?", ref.Kind, ref.ID)
}

func (s *Gorm) ListMessages(ctx context.Context, ref models.ConversationRef, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := byConversation(s.db.WithContext(ctx), ref).
		Preload("Reads", readsInOrder).
		Order("created_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		fillReadBy(&msgs[i])
	}
	return msgs, nil
}

func (s *Gorm) LatestMessage(ctx context.Context, ref models.ConversationRef) (*models.Message, error) {
	var m models.Message
	err := byConversation(s.db.WithContext(ctx), ref).Order("created_at desc, id desc").First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *Gorm) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).Where("id = ?", id).Update("status", models.StatusRead)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := exists(tx, &models.Message{}, id); err != nil {
				return err
			}
		}
		read := models.MessageRead{MessageID: id, UserID: userID, ReadAt: tx.NowFunc()}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&read).Error
	})
}

func (s *Gorm) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&models.MessageRead{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Message{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Gorm) DeleteConversationMessages(ctx context.Context, ref models.ConversationRef) ([]string, error) {
	var attachments []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msgs []models.Message
		if err := byConversation(tx, ref).Select("id", "attachment_url").Find(&msgs).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
			if m.HasAttachment() {
				attachments = append(attachments, *m.AttachmentURL)
			}
		}
		if err := tx.Where("message_id IN ?", ids).Delete(&models.MessageRead{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Message{}).Error
	})
	return attachments, err
}

func (s *Gorm) CreateReview(ctx context.Context, r *models.Review) error {
	return translate(s.db.WithContext(ctx).Create(r).Error)
}

func (s *Gorm) GetReview(ctx context.Context, id uuid.UUID) (*models.Review, error) {
	var r models.Review
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

type reviewRow struct {
	models.Review
	Username string
}

func (s *Gorm) listReviews(ctx context.Context, where func(*gorm.DB) *gorm.DB) ([]models.Review, error) {
	var rows []reviewRow
	q := s.db.WithContext(ctx).
		Table("reviews").
		Select("reviews.*, users.username AS username").
		Joins("LEFT JOIN users ON users.id = reviews.user_id")
	if where != nil {
		q = where(q)
	}
	if err := q.Order("reviews.created_at desc").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Review, len(rows))
	for i, row := range rows {
		out[i] = row.Review
		out[i].Author = row.Username
	}
	return out, nil
}

func (s *Gorm) ListReviews(ctx context.Context) ([]models.Review, error) {
	return s.listReviews(ctx, nil)
}

func (s *Gorm) ListUserReviews(ctx context.Context, userID uuid.UUID) ([]models.Review, error) {
	return s.listReviews(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("reviews.user_id = ?", userID)
	})
}

func (s *Gorm) UpdateReview(ctx context.Context, r *models.Review) error {
	return translate(s.db.WithContext(ctx).Save(r).Error)
}

func (s *Gorm) DeleteReview(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.Review{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
