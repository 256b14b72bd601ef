package account

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"animehub-be/internal/apperr"
	"animehub-be/internal/session"
	"animehub-be/internal/store/memstore"
	"animehub-be/internal/upload"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type fakeFiles struct {
	saved   []string
	removed []string
}

func (f *fakeFiles) Save(_ context.Context, c upload.Category, owner string, file *upload.File) (string, error) {
	if err := upload.NewStore(upload.NewDisk("unused")).Check(c, file); err != nil {
		return "", err
	}
	p := "/uploads/" + string(c) + "/" + owner + "_" + file.Name
	f.saved = append(f.saved, p)
	return p, nil
}

func (f *fakeFiles) Remove(_ context.Context, p string) error {
	f.removed = append(f.removed, p)
	return nil
}

func newService(t *testing.T) (*Service, *fakeFiles) {
	t.Helper()
	files := &fakeFiles{}
	sessions := session.NewManager(session.NewMemoryStore(), "secret", time.Hour)
	svc := NewService(memstore.New(), sessions, files, zap.NewNop())
	svc.cost = bcrypt.MinCost
	return svc, files
}

func image(name, contentType string, size int64) *upload.File {
	return &upload.File{
		Name:        name,
		ContentType: contentType,
		Size:        size,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("img")), nil },
	}
}

func signup(t *testing.T, svc *Service, name string) uuid.UUID {
	t.Helper()
	u, err := svc.Signup(context.Background(), SignupInput{Username: name, Email: name + "@Example.com", Password: "secret1"})
	require.NoError(t, err)
	return u.ID
}

func TestSignupAndLogin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, err := svc.Signup(ctx, SignupInput{Username: "naruto", Email: " Naruto@Leaf.jp ", Password: "ramen123"})
	require.NoError(t, err)
	assert.Equal(t, "naruto@leaf.jp", u.Email)
	assert.NotEqual(t, "ramen123", u.PasswordHash)

	token, got, err := svc.Login(ctx, "NARUTO@leaf.jp", "ramen123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, u.ID, got.ID)

	_, _, err = svc.Login(ctx, "naruto@leaf.jp", "wrong")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	_, _, err = svc.Login(ctx, "nobody@leaf.jp", "ramen123")
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	require.NoError(t, svc.Logout(ctx, token))
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	cases := []SignupInput{
		{Username: "ab", Email: "a@b.co", Password: "secret1"},
		{Username: "has space", Email: "a@b.co", Password: "secret1"},
		{Username: "goku", Email: "not-an-email", Password: "secret1"},
		{Username: "goku", Email: "a@b.co", Password: "123"},
	}
	for _, in := range cases {
		_, err := svc.Signup(ctx, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", in)
	}
}

func TestSignupConflict(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	signup(t, svc, "luffy")

	_, err := svc.Signup(ctx, SignupInput{Username: "luffy", Email: "other@example.com", Password: "secret1"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = svc.Signup(ctx, SignupInput{Username: "zoro", Email: "luffy@example.com", Password: "secret1"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	id := signup(t, svc, "luffy")
	signup(t, svc, "zoro")

	name := "strawhat"
	u, err := svc.UpdateProfile(ctx, id, ProfileUpdate{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "strawhat", u.Username)

	taken := "zoro"
	_, err = svc.UpdateProfile(ctx, id, ProfileUpdate{Username: &taken})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	bad := "x"
	_, err = svc.UpdateProfile(ctx, id, ProfileUpdate{Email: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestChangePassword(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	id := signup(t, svc, "luffy")

	assert.True(t, apperr.Is(svc.ChangePassword(ctx, id, "wrong", "newpass1"), apperr.KindForbidden))
	assert.True(t, apperr.Is(svc.ChangePassword(ctx, id, "secret1", "123"), apperr.KindValidation))
	require.NoError(t, svc.ChangePassword(ctx, id, "secret1", "newpass1"))

	_, _, err := svc.Login(ctx, "luffy@example.com", "newpass1")
	require.NoError(t, err)
}

func TestProfilePictureLifecycle(t *testing.T) {
	svc, files := newService(t)
	ctx := context.Background()
	id := signup(t, svc, "luffy")

	_, err := svc.UploadProfilePicture(ctx, id, image("doc.pdf", "application/pdf", 10))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.UploadProfilePicture(ctx, id, image("big.png", "image/png", 6<<20))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	u, err := svc.UploadProfilePicture(ctx, id, image("first.png", "image/png", 10))
	require.NoError(t, err)
	first := *u.ProfilePicture

	u, err = svc.UploadProfilePicture(ctx, id, image("second.jpg", "image/jpeg", 10))
	require.NoError(t, err)
	assert.NotEqual(t, first, *u.ProfilePicture)
	assert.Equal(t, []string{first}, files.removed)

	u, err = svc.DeleteProfilePicture(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, u.ProfilePicture)
	assert.Len(t, files.removed, 2)

	_, err = svc.DeleteProfilePicture(ctx, id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSearch(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	me := signup(t, svc, "sasuke")
	signup(t, svc, "sakura")
	signup(t, svc, "naruto")

	res, err := svc.Search(ctx, me, "SA")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "sakura", res[0].Username)

	res, err = svc.Search(ctx, me, "  ")
	require.NoError(t, err)
	assert.Empty(t, res)
}
