// Package blobstore stores audio recordings as opaque blobs keyed by path,
// and issues time-limited signed retrieval URLs. It defines the BlobStore
// backend contract, an in-memory backend for tests and development, an
// S3-compatible backend (AWS S3, Cloudflare R2, MinIO), and the Gateway used
// by the note service.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrMissingFileName = errors.New("file name is required")
)

// MaxFileSize bounds a single stored blob (100 MB). Audio accepted for
// transcription is limited further by the transcription package.
const MaxFileSize = 100 * 1024 * 1024

// DefaultSignedURLTTL is used when a Gateway is built with a zero TTL.
const DefaultSignedURLTTL = time.Hour

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes a stored blob.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Hash        string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// BlobStore is the backend contract.
type BlobStore interface {
	Put(ctx context.Context, obj Object, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	object  Object
	content []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
	now   func() time.Time
}

// NewInMemoryBlobStore returns a ready-to-use InMemoryBlobStore.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs: make(map[string]*storedBlob),
		now:   time.Now,
	}
}

// Put reads the content, computes a SHA-256 hash, and stores the blob under
// obj.Key, replacing any previous blob with the same key.
func (s *InMemoryBlobStore) Put(_ context.Context, obj Object, content io.Reader) (*Object, error) {
	if obj.Key == "" {
		return nil, ErrMissingFileName
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	h := sha256.Sum256(data)
	obj.Size = int64(len(data))
	obj.Hash = fmt.Sprintf("%x", h)
	obj.CreatedAt = s.now().UTC()
	if obj.Metadata == nil {
		obj.Metadata = make(map[string]string)
	}

	s.mu.Lock()
	s.blobs[obj.Key] = &storedBlob{object: obj, content: data}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

// Get returns a copy of the blob content.
func (s *InMemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	return bytes.Clone(blob.content), nil
}

// Stat returns blob metadata without content.
func (s *InMemoryBlobStore) Stat(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	obj := blob.object
	return &obj, nil
}

// Delete removes a blob by key.
func (s *InMemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// PresignGet returns a memory:// URL carrying the expiry. It is only useful
// for asserting behaviour in tests and local development.
func (s *InMemoryBlobStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrBlobNotFound
	}
	expires := s.now().Add(ttl).Unix()
	return "memory:///" + escapeKey(key) + "?expires=" + strconv.FormatInt(expires, 10), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

// Gateway is the audio-facing view of a BlobStore used by the note service.
type Gateway struct {
	store  BlobStore
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewGateway builds a Gateway. A zero ttl falls back to DefaultSignedURLTTL.
func NewGateway(store BlobStore, ttl time.Duration, logger zerolog.Logger) *Gateway {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &Gateway{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// AudioKey builds the storage key "audio/<epoch-ms>-<filename>". Directory
// components in filename are discarded.
func AudioKey(at time.Time, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = "audio"
	}
	return fmt.Sprintf("audio/%d-%s", at.UnixMilli(), base)
}

// UploadAudio stores data under a fresh audio key and returns the key.
func (g *Gateway) UploadAudio(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	now := g.now()
	key := AudioKey(now, filename)
	obj := Object{
		Key:         key,
		ContentType: contentType,
		Metadata: map[string]string{
			"uploaded-at":   now.UTC().Format(time.RFC3339),
			"original-name": filename,
		},
	}
	stored, err := g.store.Put(ctx, obj, bytes.NewReader(data))
	if err != nil {
		g.logger.Error().Err(err).Str("audio_path", key).Msg("audio upload failed")
		return "", fmt.Errorf("upload audio: %w", err)
	}
	g.logger.Info().Str("audio_path", key).Int64("size", stored.Size).Msg("audio uploaded")
	return key, nil
}

// AudioBuffer downloads the blob stored under key. A missing blob is
// reported as ErrBlobNotFound.
func (g *Gateway) AudioBuffer(ctx context.Context, key string) ([]byte, error) {
	data, err := g.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("download audio: %w", err)
	}
	return data, nil
}

// SignedURL returns a time-limited retrieval URL for key.
func (g *Gateway) SignedURL(ctx context.Context, key string) (string, error) {
	u, err := g.store.PresignGet(ctx, key, g.ttl)
	if err != nil {
		return "", fmt.Errorf("sign audio url: %w", err)
	}
	return u, nil
}
