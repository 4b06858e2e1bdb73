package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/pkg/timestamp"
	"github.com/c360/cloudrelay/telemetry"
)

// MemoryHotStore is an in-memory HotStore used for local development and
// tests. Not durable; safe for concurrent use.
type MemoryHotStore struct {
	mu    sync.RWMutex
	items map[string]telemetry.Item // identity key -> item
}

// NewMemoryHotStore creates an empty in-memory hot store.
func NewMemoryHotStore() *MemoryHotStore {
	return &MemoryHotStore{items: make(map[string]telemetry.Item)}
}

// Upsert implements HotStore.
func (s *MemoryHotStore) Upsert(_ context.Context, item telemetry.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Key()] = item
	return nil
}

// UpsertBatch implements HotStore.
func (s *MemoryHotStore) UpsertBatch(ctx context.Context, items []telemetry.Item) error {
	for _, item := range items {
		if err := s.Upsert(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// QueryRange implements HotStore.
func (s *MemoryHotStore) QueryRange(_ context.Context, deviceID string, startMs, endMs int64) ([]telemetry.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []telemetry.Item
	for _, item := range s.items {
		if item.DeviceID != deviceID {
			continue
		}
		ms, err := item.TimestampMs()
		if err != nil {
			continue
		}
		if ms >= startMs && ms <= endMs {
			out = append(out, item)
		}
	}
	sortItems(out)
	return out, nil
}

// Latest implements HotStore.
func (s *MemoryHotStore) Latest(_ context.Context, deviceID string) (telemetry.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest telemetry.Item
	found := false
	for _, item := range s.items {
		if item.DeviceID != deviceID {
			continue
		}
		if !found || item.Timestamp > latest.Timestamp {
			latest = item
			found = true
		}
	}
	if !found {
		return telemetry.Item{}, errors.Wrap(errors.ErrKeyNotFound, "MemoryHotStore", "Latest", deviceID)
	}
	return latest, nil
}

// ListOlderThan implements HotStore. The page token is the numeric offset
// into the device/timestamp-ordered snapshot.
func (s *MemoryHotStore) ListOlderThan(_ context.Context, cutoffMs int64, pageToken string, limit int) (Page, error) {
	if limit <= 0 {
		limit = 1000
	}

	s.mu.RLock()
	var matched []telemetry.Item
	for _, item := range s.items {
		ms, err := item.TimestampMs()
		if err != nil {
			continue
		}
		if ms < cutoffMs {
			matched = append(matched, item)
		}
	}
	s.mu.RUnlock()
	sortItems(matched)

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return Page{}, errors.WrapInvalid(errors.ErrInvalidQuery, "MemoryHotStore", "ListOlderThan", "bad page token")
		}
		offset = n
	}
	if offset >= len(matched) {
		return Page{}, nil
	}

	end := offset + limit
	next := ""
	if end < len(matched) {
		next = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	return Page{Items: matched[offset:end], NextToken: next}, nil
}

// DeleteBatch implements HotStore.
func (s *MemoryHotStore) DeleteBatch(_ context.Context, keys []ItemKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k.Key())
	}
	return nil
}

// Len returns the number of stored items.
func (s *MemoryHotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func sortItems(items []telemetry.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].DeviceID != items[j].DeviceID {
			return items[i].DeviceID < items[j].DeviceID
		}
		return items[i].Timestamp < items[j].Timestamp
	})
}

// MemoryObjectStore is an in-memory ObjectStore for local development and
// tests.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	mtimes  map[string]int64
}

// NewMemoryObjectStore creates an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
		mtimes:  make(map[string]int64),
	}
}

// Put implements ObjectStore.
func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	s.mtimes[key] = timestamp.Now()
	return nil
}

// Get implements ObjectStore.
func (s *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.Wrap(errors.ErrKeyNotFound, "MemoryObjectStore", "Get", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List implements ObjectStore.
func (s *MemoryObjectStore) List(_ context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Object
	for key, data := range s.objects {
		if prefix != "" && !hasPrefix(key, prefix) {
			continue
		}
		out = append(out, Object{
			Key:        key,
			Size:       int64(len(data)),
			ModifiedMs: s.mtimes[key],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements ObjectStore.
func (s *MemoryObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.mtimes, key)
	return nil
}

// SetModified overrides an object's modification time, used by retention
// tests.
func (s *MemoryObjectStore) SetModified(key string, ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		s.mtimes[key] = ms
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
