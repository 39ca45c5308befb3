// Package blob stores message image attachments and hands back a URI the
// message can reference.
package blob

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/848838/ChatApp/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
)

var (
	ErrNotAnImage = fmt.Errorf("%w: attachment is not a supported image", domain.ErrValidation)
	ErrTooLarge   = fmt.Errorf("%w: attachment exceeds the size limit", domain.ErrValidation)
	ErrEmpty      = fmt.Errorf("%w: attachment is empty", domain.ErrValidation)
)

var allowedImages = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Object is a sniffed attachment ready for upload.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

//go:generate go run go.uber.org/mock/mockgen -destination=../mocks/mock_blob_store.go -package=mocks github.com/848838/ChatApp/internal/blob Store

type Store interface {
	// Put uploads obj and returns the URI it can be fetched from.
	Put(ctx context.Context, obj Object) (string, error)
}

// NewImage detects the content type from the bytes themselves; the client's
// declared type is ignored.
func NewImage(data []byte, maxBytes int64) (Object, error) {
	if len(data) == 0 {
		return Object{}, ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Object{}, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	contentType := strings.ToLower(strings.SplitN(mt.String(), ";", 2)[0])
	if !allowedImages[contentType] {
		return Object{}, fmt.Errorf("%w: got %s", ErrNotAnImage, contentType)
	}

	return Object{
		Key:         "images/" + strings.ToLower(ulid.Make().String()) + mt.Extension(),
		ContentType: contentType,
		Data:        data,
	}, nil
}

// MemoryStore keeps objects in a map. Used when no object storage is configured.
type MemoryStore struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]Object),
	}
}

func (m *MemoryStore) Put(ctx context.Context, obj Object) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[obj.Key] = obj
	m.mu.Unlock()
	return m.baseURL + "/" + obj.Key, nil
}

// Get returns a stored object; the server serves these under /files/.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}
