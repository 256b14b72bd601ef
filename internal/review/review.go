// Package review implements anime reviews with an optional cover image.
package review

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"animehub-be/internal/apperr"
	"animehub-be/internal/models"
	"animehub-be/internal/store"
	"animehub-be/internal/upload"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImagePrefix is the filename prefix of stored review images.
const ImagePrefix = "review"

type Files interface {
	Save(ctx context.Context, c upload.Category, owner string, f *upload.File) (string, error)
	Remove(ctx context.Context, path string) error
}

// Input is a review as submitted by a form. Rating is kept as the raw form
// value and parsed during validation.
type Input struct {
	Title  string
	Text   string
	Rating string
	Image  *upload.File
}

type Service struct {
	reviews store.Reviews
	files   Files
	log     *zap.Logger
}

func NewService(reviews store.Reviews, files Files, log *zap.Logger) *Service {
	return &Service{reviews: reviews, files: files, log: log}
}

type fields struct {
	title, text string
	rating      int
}

func validate(in Input) (fields, error) {
	f := fields{title: strings.TrimSpace(in.Title), text: strings.TrimSpace(in.Text)}
	rating := strings.TrimSpace(in.Rating)
	if f.title == "" || f.text == "" || rating == "" {
		return f, apperr.Validation("all fields are required")
	}
	n, err := strconv.Atoi(rating)
	if err != nil || n < 1 || n > 5 {
		return f, apperr.Validation("rating must be between 1 and 5")
	}
	f.rating = n
	return f, nil
}

func (s *Service) saveImage(ctx context.Context, img *upload.File) (string, error) {
	if img == nil {
		return "", nil
	}
	return s.files.Save(ctx, upload.ReviewImages, ImagePrefix, img)
}

func (s *Service) removeImage(ctx context.Context, p string) {
	if p == "" {
		return
	}
	if err := s.files.Remove(ctx, p); err != nil {
		s.log.Warn("failed to remove review image", zap.String("path", p), zap.Error(err))
	}
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, in Input) (*models.Review, error) {
	f, err := validate(in)
	if err != nil {
		return nil, err
	}
	img, err := s.saveImage(ctx, in.Image)
	if err != nil {
		return nil, err
	}
	r := &models.Review{UserID: userID, Title: f.title, Text: f.text, Rating: f.rating, ImageURL: img}
	if err := s.reviews.CreateReview(ctx, r); err != nil {
		s.removeImage(ctx, img)
		return nil, apperr.Internal("failed to create review", err)
	}
	s.log.Info("review created", zap.String("review_id", r.ID.String()), zap.String("user_id", userID.String()))
	return r, nil
}

func (s *Service) List(ctx context.Context) ([]models.Review, error) {
	out, err := s.reviews.ListReviews(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list reviews", err)
	}
	if out == nil {
		out = []models.Review{}
	}
	return out, nil
}

func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) ([]models.Review, error) {
	out, err := s.reviews.ListUserReviews(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list reviews", err)
	}
	if out == nil {
		out = []models.Review{}
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, id, userID uuid.UUID, verb string) (*models.Review, error) {
	if id == uuid.Nil {
		return nil, apperr.Validation("invalid review id")
	}
	r, err := s.reviews.GetReview(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("review not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load review", err)
	}
	if r.UserID != userID {
		return nil, apperr.Forbidden("you can only " + verb + " your own reviews")
	}
	return r, nil
}

// Update replaces every field of the review. A new image replaces the old one,
// which is then removed best effort.
func (s *Service) Update(ctx context.Context, id, userID uuid.UUID, in Input) (*models.Review, error) {
	r, err := s.owned(ctx, id, userID, "edit")
	if err != nil {
		return nil, err
	}
	f, err := validate(in)
	if err != nil {
		return nil, err
	}
	img, err := s.saveImage(ctx, in.Image)
	if err != nil {
		return nil, err
	}

	old := r.ImageURL
	r.Title, r.Text, r.Rating = f.title, f.text, f.rating
	if img != "" {
		r.ImageURL = img
	}
	if err := s.reviews.UpdateReview(ctx, r); err != nil {
		s.removeImage(ctx, img)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("review not found")
		}
		return nil, apperr.Internal("failed to update review", err)
	}
	if img != "" {
		s.removeImage(ctx, old)
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	r, err := s.owned(ctx, id, userID, "delete")
	if err != nil {
		return err
	}
	if err := s.reviews.DeleteReview(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("review not found")
		}
		return apperr.Internal("failed to delete review", err)
	}
	s.removeImage(ctx, r.ImageURL)
	return nil
}
