// Package account handles signup, login and the user's own profile.
package account

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"animehub-be/internal/apperr"
	"animehub-be/internal/models"
	"animehub-be/internal/session"
	"animehub-be/internal/store"
	"animehub-be/internal/upload"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	SearchLimit       = 20
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,30}$`)

// RegisterValidations adds the "username" tag to v.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
}

// Files stores and removes uploaded files. *upload.Store satisfies it.
type Files interface {
	Save(ctx context.Context, c upload.Category, owner string, f *upload.File) (string, error)
	Remove(ctx context.Context, path string) error
}

type SignupInput struct {
	Username string `validate:"required,username"`
	Email    string `validate:"required,email,max=190"`
	Password string `validate:"required,min=6,max=72"`
}

// ProfileUpdate carries the fields to change. Nil fields are left as they are.
type ProfileUpdate struct {
	Username *string
	Email    *string
}

type Service struct {
	users    store.Users
	sessions *session.Manager
	files    Files
	validate *validator.Validate
	cost     int
	log      *zap.Logger
}

func NewService(users store.Users, sessions *session.Manager, files Files, log *zap.Logger) *Service {
	v := validator.New()
	if err := RegisterValidations(v); err != nil {
		panic(err)
	}
	return &Service{
		users:    users,
		sessions: sessions,
		files:    files,
		validate: v,
		cost:     bcrypt.DefaultCost,
		log:      log,
	}
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation("invalid input")
	}
	switch fe := verrs[0]; fe.Field() {
	case "Username":
		return apperr.Validation("username must be 3-30 letters, digits, '_', '.' or '-'")
	case "Email":
		return apperr.Validation("a valid email is required")
	case "Password":
		return apperr.Validation("password must be at least 6 characters")
	default:
		return apperr.Validation("invalid " + strings.ToLower(fe.Field()))
	}
}

func (s *Service) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", apperr.Internal("failed to hash password", err)
	}
	return string(b), nil
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	if err := s.check(in); err != nil {
		return nil, err
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	u := &models.User{Username: in.Username, Email: in.Email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("username or email already taken")
		}
		return nil, apperr.Internal("failed to create user", err)
	}
	s.log.Info("user signed up", zap.String("user_id", u.ID.String()))
	return u, nil
}

// Login checks the credentials and opens a session. It returns the session
// token alongside the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	bad := apperr.Unauthenticated("invalid email or password")
	u, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, bad
	}
	if err != nil {
		return "", nil, apperr.Internal("failed to load user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, bad
	}
	token, _, err := s.sessions.Start(ctx, u.ID)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.End(ctx, token)
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}
	return u, nil
}

func (s *Service) save(ctx context.Context, u *models.User) error {
	if err := s.users.UpdateUser(ctx, u); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return apperr.Conflict("username or email already taken")
		case errors.Is(err, store.ErrNotFound):
			return apperr.NotFound("user not found")
		}
		return apperr.Internal("failed to update user", err)
	}
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*models.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if err := s.validate.Var(name, "required,username"); err != nil {
			return nil, apperr.Validation("username must be 3-30 letters, digits, '_', '.' or '-'")
		}
		u.Username = name
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if err := s.validate.Var(email, "required,email,max=190"); err != nil {
			return nil, apperr.Validation("a valid email is required")
		}
		u.Email = email
	}
	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return apperr.Forbidden("current password is incorrect")
	}
	if err := s.validate.Var(next, "required,min=6,max=72"); err != nil {
		return apperr.Validation("password must be at least 6 characters")
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.save(ctx, u)
}

// UploadProfilePicture stores f as the user's picture. The previous picture
// is removed best effort.
func (s *Service) UploadProfilePicture(ctx context.Context, userID uuid.UUID, f *upload.File) (*models.User, error) {
	if f == nil {
		return nil, apperr.Validation("no file uploaded")
	}
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.files.Save(ctx, upload.ProfilePictures, userID.String(), f)
	if err != nil {
		return nil, err
	}
	old := u.ProfilePicture
	u.ProfilePicture = &p
	if err := s.save(ctx, u); err != nil {
		s.remove(ctx, p)
		return nil, err
	}
	if old != nil && *old != "" {
		s.remove(ctx, *old)
	}
	return u, nil
}

func (s *Service) DeleteProfilePicture(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.ProfilePicture == nil || *u.ProfilePicture == "" {
		return nil, apperr.NotFound("no profile picture to delete")
	}
	old := *u.ProfilePicture
	u.ProfilePicture = nil
	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	s.remove(ctx, old)
	return u, nil
}

func (s *Service) remove(ctx context.Context, p string) {
	if err := s.files.Remove(ctx, p); err != nil {
		s.log.Warn("failed to remove profile picture", zap.String("path", p), zap.Error(err))
	}
}

// Search finds other users whose username starts with q.
func (s *Service) Search(ctx context.Context, userID uuid.UUID, q string) ([]models.PublicProfile, error) {
	q = strings.TrimSpace(q)
	out := []models.PublicProfile{}
	if q == "" {
		return out, nil
	}
	users, err := s.users.SearchUsers(ctx, q, userID, SearchLimit)
	if err != nil {
		return nil, apperr.Internal("failed to search users", err)
	}
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out, nil
}
