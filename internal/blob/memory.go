package blob

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Signed URLs point at a fake host.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) FetchTemplate(ctx context.Context, ownerID, templateID string) (string, error) {
	data, err := m.Fetch(ctx, TemplateKey(ownerID, templateID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *MemoryStore) PutTemplate(_ context.Context, ownerID, templateID, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[TemplateKey(ownerID, templateID)] = []byte(source)
	return nil
}

func (m *MemoryStore) PutArtifact(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return nil
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

// Put stores an arbitrary object, overwriting any existing one.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

func (m *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.invalid/%s?expires=%d", url.PathEscape(key), int(ttl.Seconds())), nil
}

func (m *MemoryStore) Fetch(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}
