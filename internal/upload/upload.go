// Package upload stores user-supplied files (profile pictures, chat
// attachments, review images) under per-category keys and serves them back
// under /uploads/.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"animehub-be/internal/apperr"

	"github.com/dustin/go-humanize"
)

type Category string

const (
	ProfilePictures Category = "profile-pics"
	General         Category = "general"
	ReviewImages    Category = "review-images"
)

// PublicPrefix is the URL path uploaded files are served under.
const PublicPrefix = "/uploads/"

type Policy struct {
	MaxBytes   int64
	ImagesOnly bool
}

var policies = map[Category]Policy{
	ProfilePictures: {MaxBytes: 5 << 20, ImagesOnly: true},
	General:         {MaxBytes: 10 << 20},
	ReviewImages:    {MaxBytes: 5 << 20, ImagesOnly: true},
}

func PolicyFor(c Category) (Policy, bool) {
	p, ok := policies[c]
	return p, ok
}

var (
	imageExt  = regexp.MustCompile(`^\.(jpeg|jpg|png|gif|webp)$`)
	imageMime = regexp.MustCompile(`jpeg|jpg|png|gif|webp`)
)

// ErrNotFound is returned by backends when a key does not exist.
var ErrNotFound = errors.New("upload not found")

// Backend is where file bytes live. Keys look like "general/<name>".
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// File describes an incoming upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

func FromHeader(fh *multipart.FileHeader) *File {
	return &File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

type Store struct {
	backend Backend
	now     func() time.Time
	// OnSave, when set, is called after every stored upload.
	OnSave func(c Category, size int64)

	mu   sync.Mutex
	last int64
}

func NewStore(b Backend) *Store {
	return &Store{backend: b, now: time.Now}
}

// Check applies the category policy to f without storing anything.
func (s *Store) Check(c Category, f *File) error {
	p, ok := policies[c]
	if !ok {
		return apperr.Validation(fmt.Sprintf("unknown upload category %q", c))
	}
	if f.Size > p.MaxBytes {
		return apperr.Validation(fmt.Sprintf("file too large (max %s)", humanize.IBytes(uint64(p.MaxBytes))))
	}
	if p.ImagesOnly {
		ext := strings.ToLower(path.Ext(f.Name))
		if !imageExt.MatchString(ext) || !imageMime.MatchString(strings.ToLower(f.ContentType)) {
			return apperr.Validation("only image files are allowed")
		}
	}
	return nil
}

// stamp returns the current epoch milliseconds, bumped so that no two calls
// in this process return the same value.
func (s *Store) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}

// Filename builds "{owner}_{epochMillis}{ext}".
func (s *Store) Filename(owner, original string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(original, `\`, "/"))))
	return fmt.Sprintf("%s_%d%s", owner, s.stamp(), ext)
}

// Save checks f against the category policy, stores it and returns the
// public path it is served from.
func (s *Store) Save(ctx context.Context, c Category, owner string, f *File) (string, error) {
	if err := s.Check(c, f); err != nil {
		return "", err
	}
	rc, err := f.Open()
	if err != nil {
		return "", apperr.Internal("failed to read upload", err)
	}
	defer rc.Close()

	key := string(c) + "/" + s.Filename(owner, f.Name)
	p := policies[c]
	if err := s.backend.Put(ctx, key, io.LimitReader(rc, p.MaxBytes), f.Size, f.ContentType); err != nil {
		return "", apperr.Internal("failed to store upload", err)
	}
	if s.OnSave != nil {
		s.OnSave(c, f.Size)
	}
	return PublicPrefix + key, nil
}

// KeyFromPath maps a public path back to a backend key. It rejects anything
// outside PublicPrefix or containing traversal segments.
func KeyFromPath(p string) (string, error) {
	if !strings.HasPrefix(p, PublicPrefix) {
		return "", apperr.Validation("not an upload path")
	}
	key := strings.TrimPrefix(p, PublicPrefix)
	if key == "" || strings.Contains(key, "..") || strings.Contains(key, `\`) || path.Clean(key) != key {
		return "", apperr.Validation("invalid upload path")
	}
	cat, name, ok := strings.Cut(key, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", apperr.Validation("invalid upload path")
	}
	if _, known := policies[Category(cat)]; !known {
		return "", apperr.Validation("invalid upload path")
	}
	return key, nil
}

// Remove deletes the file served at public path p.
func (s *Store) Remove(ctx context.Context, p string) error {
	key, err := KeyFromPath(p)
	if err != nil {
		return err
	}
	return s.backend.Remove(ctx, key)
}

// Open streams the file served at public path p.
func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := KeyFromPath(p)
	if err != nil {
		return nil, err
	}
	rc, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("file not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to read upload", err)
	}
	return rc, nil
}
