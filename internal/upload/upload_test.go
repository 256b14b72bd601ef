package upload

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"animehub-be/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textFile(name, contentType, body string) *File {
	return &File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func frozenStore(t *testing.T) (*Store, string) {
	root := t.TempDir()
	s := NewStore(NewDisk(root))
	fixed := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return fixed }
	return s, root
}

func TestFilenameIsUniqueWithinSameMillisecond(t *testing.T) {
	s, _ := frozenStore(t)
	a := s.Filename("u1", "cat.PNG")
	b := s.Filename("u1", "cat.png")
	assert.Equal(t, "u1_1700000000000.png", a)
	assert.Equal(t, "u1_1700000000001.png", b)
}

func TestSaveAndOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, root := frozenStore(t)

	p, err := s.Save(ctx, General, "u1", textFile("notes.txt", "text/plain", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/general/u1_1700000000000.txt", p)

	_, err = os.Stat(filepath.Join(root, "general", "u1_1700000000000.txt"))
	require.NoError(t, err)

	rc, err := s.Open(ctx, p)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(body))

	require.NoError(t, s.Remove(ctx, p))
	_, err = s.Open(ctx, p)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.ErrorIs(t, s.Remove(ctx, p), ErrNotFound)
}

func TestImagePolicy(t *testing.T) {
	s, _ := frozenStore(t)
	assert.NoError(t, s.Check(ProfilePictures, textFile("me.jpg", "image/jpeg", "x")))

	err := s.Check(ProfilePictures, textFile("me.txt", "text/plain", "x"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = s.Check(ReviewImages, textFile("me.png", "application/octet-stream", "x"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	assert.NoError(t, s.Check(General, textFile("doc.pdf", "application/pdf", "x")))
}

func TestSizeLimit(t *testing.T) {
	s, _ := frozenStore(t)
	f := textFile("big.png", "image/png", "x")
	f.Size = 6 << 20
	err := s.Check(ReviewImages, f)
	require.Error(t, err)
	assert.Contains(t, apperr.Message(err), "5.0 MiB")
}

func TestKeyFromPath(t *testing.T) {
	key, err := KeyFromPath("/uploads/review-images/review_1.png")
	require.NoError(t, err)
	assert.Equal(t, "review-images/review_1.png", key)

	for _, bad := range []string{
		"/etc/passwd",
		"/uploads/../secret",
		"/uploads/general/../../x",
		"/uploads/unknown/x.png",
		"/uploads/general/",
		"/uploads/general/a/b.png",
	} {
		_, err := KeyFromPath(bad)
		assert.Error(t, err, bad)
	}
}
