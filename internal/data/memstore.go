package data

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openvidu/openvidu-meet/internal/errs"
)

// MemStore is an in-memory ObjectStore used by tests and single-node
// development runs. Listing is lexicographic, with numeric offset cursors
// standing in for continuation tokens.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailPut, when set, makes every Put return Unavailable; tests use it to
	// exercise the write-through invalidation path.
	FailPut bool
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.objects[key]
	if !ok {
		return nil, errs.NotFound("OBJECT_NOT_FOUND", "object not found: "+key)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *MemStore) GetRange(ctx context.Context, key string, start, end int64) ([]byte, int64, error) {
	raw, err := m.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(raw))
	if start < 0 || start >= total {
		return nil, total, errs.RangeNotSatisfiable(fmt.Sprintf("range start %d outside object of %d bytes", start, total))
	}
	if end >= total {
		end = total - 1
	}
	return raw[start : end+1], total, nil
}

func (m *MemStore) Head(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.objects[key]
	if !ok {
		return 0, errs.NotFound("OBJECT_NOT_FOUND", "object not found: "+key)
	}
	return int64(len(raw)), nil
}

func (m *MemStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return errs.Unavailable("OBJECT_STORE_UNAVAILABLE", "object store request failed: "+key, nil)
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	m.objects[key] = raw
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
		}
	}
	return nil
}

func (m *MemStore) List(_ context.Context, prefix string, limit int, cursor string) ([]string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			all = append(all, key)
		}
	}
	sort.Strings(all)

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", errs.Validation("invalid page token",
				errs.FieldError{Field: "nextPageToken", Message: "unknown cursor"})
		}
		offset = n
	}
	if offset >= len(all) {
		return nil, "", nil
	}

	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[offset:end], next, nil
}

func (m *MemStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := m.Head(context.Background(), key); err != nil {
		return "", err
	}
	return "https://storage.local/" + key + "?expires=" + strconv.FormatInt(int64(ttl.Seconds()), 10), nil
}

// Len reports the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has reports whether key exists.
func (m *MemStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}
