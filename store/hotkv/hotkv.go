// Package hotkv implements the Hot tier on a NATS JetStream KV bucket.
// Keys encode the item identity as "<deviceId>.<unix-ms>" with the
// millisecond part zero-padded so keys sort in time order per device.
package hotkv

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

// Store is a HotStore backed by a JetStream KV bucket.
type Store struct {
	kv     jetstream.KeyValue
	logger *slog.Logger
}

var _ store.HotStore = (*Store)(nil)

// New creates a hot store over an open KV bucket.
func New(kv jetstream.KeyValue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// itemKey encodes the identity key for KV storage. Device IDs may contain
// characters NATS KV keys reject, so the device part is sanitized while
// the stored item retains the original ID.
func itemKey(deviceID string, ms int64) string {
	return sanitizeDevice(deviceID) + "." + fmt.Sprintf("%013d", ms)
}

func sanitizeDevice(deviceID string) string {
	var b strings.Builder
	for _, r := range deviceID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// splitKey parses a KV key back into its device part and milliseconds.
func splitKey(key string) (devicePart string, ms int64, ok bool) {
	idx := strings.LastIndex(key, ".")
	if idx <= 0 || idx == len(key)-1 {
		return "", 0, false
	}
	n, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key[:idx], n, true
}

// Upsert implements store.HotStore. KV Put is last-writer-wins, so
// duplicate delivery of an identical item leaves the bucket unchanged.
func (s *Store) Upsert(ctx context.Context, item telemetry.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	ms, err := item.TimestampMs()
	if err != nil {
		return errors.WrapInvalid(err, "hotkv", "Upsert", "item timestamp")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return errors.WrapInvalid(err, "hotkv", "Upsert", "marshal item")
	}
	if _, err := s.kv.Put(ctx, itemKey(item.DeviceID, ms), data); err != nil {
		return errors.WrapTransient(err, "hotkv", "Upsert", "kv put")
	}
	return nil
}

// UpsertBatch implements store.HotStore.
func (s *Store) UpsertBatch(ctx context.Context, items []telemetry.Item) error {
	for _, item := range items {
		if err := s.Upsert(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// QueryRange implements store.HotStore.
func (s *Store) QueryRange(ctx context.Context, deviceID string, startMs, endMs int64) ([]telemetry.Item, error) {
	prefix := sanitizeDevice(deviceID) + "."
	keys, err := s.listKeys(ctx)
	if err != nil {
		return nil, err
	}

	var out []telemetry.Item
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		_, ms, ok := splitKey(key)
		if !ok || ms < startMs || ms > endMs {
			continue
		}
		item, err := s.getItem(ctx, key)
		if err != nil {
			return nil, err
		}
		// Sanitizing can map distinct device IDs onto the same prefix, so
		// the stored ID is the authority.
		if item.DeviceID != deviceID {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Latest implements store.HotStore.
func (s *Store) Latest(ctx context.Context, deviceID string) (telemetry.Item, error) {
	prefix := sanitizeDevice(deviceID) + "."
	keys, err := s.listKeys(ctx)
	if err != nil {
		return telemetry.Item{}, err
	}

	type candidate struct {
		key string
		ms  int64
	}
	var candidates []candidate
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ms, ok := splitKey(key); ok {
			candidates = append(candidates, candidate{key: key, ms: ms})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ms > candidates[j].ms })

	// Newest first, skipping items from devices that share this prefix
	// only after sanitizing.
	for _, c := range candidates {
		item, err := s.getItem(ctx, c.key)
		if err != nil {
			return telemetry.Item{}, err
		}
		if item.DeviceID == deviceID {
			return item, nil
		}
	}
	return telemetry.Item{}, errors.Wrap(errors.ErrKeyNotFound, "hotkv", "Latest", deviceID)
}

// ListOlderThan implements store.HotStore. The page token is a numeric
// offset into the key-ordered snapshot; KV buckets at hot-tier size are
// small enough that a key scan per page is acceptable.
func (s *Store) ListOlderThan(ctx context.Context, cutoffMs int64, pageToken string, limit int) (store.Page, error) {
	if limit <= 0 {
		limit = 1000
	}
	keys, err := s.listKeys(ctx)
	if err != nil {
		return store.Page{}, err
	}

	var matched []string
	for _, key := range keys {
		if _, ms, ok := splitKey(key); ok && ms < cutoffMs {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched) // device part then zero-padded ms

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return store.Page{}, errors.WrapInvalid(errors.ErrInvalidQuery, "hotkv", "ListOlderThan", "bad page token")
		}
		offset = n
	}
	if offset >= len(matched) {
		return store.Page{}, nil
	}

	end := offset + limit
	next := ""
	if end < len(matched) {
		next = strconv.Itoa(end)
	} else {
		end = len(matched)
	}

	page := store.Page{NextToken: next}
	for _, key := range matched[offset:end] {
		item, err := s.getItem(ctx, key)
		if err != nil {
			return store.Page{}, err
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// DeleteBatch implements store.HotStore. Purge removes the key and its
// history; purging an absent key is tolerated so movers can re-delete
// after a partial failure.
func (s *Store) DeleteBatch(ctx context.Context, keys []store.ItemKey) error {
	for _, k := range keys {
		ms, err := strconvParseTimestamp(k.Timestamp)
		if err != nil {
			return errors.WrapInvalid(err, "hotkv", "DeleteBatch", "key timestamp")
		}
		if err := s.kv.Purge(ctx, itemKey(k.DeviceID, ms)); err != nil {
			if isNotFound(err) {
				continue
			}
			return errors.WrapTransient(err, "hotkv", "DeleteBatch", "kv purge")
		}
	}
	return nil
}

func (s *Store) getItem(ctx context.Context, key string) (telemetry.Item, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return telemetry.Item{}, errors.Wrap(errors.ErrKeyNotFound, "hotkv", "getItem", key)
		}
		return telemetry.Item{}, errors.WrapTransient(err, "hotkv", "getItem", "kv get")
	}
	var item telemetry.Item
	if err := json.Unmarshal(entry.Value(), &item); err != nil {
		return telemetry.Item{}, errors.WrapInvalid(err, "hotkv", "getItem", "unmarshal item")
	}
	return item, nil
}

func (s *Store) listKeys(ctx context.Context) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "hotkv", "listKeys", "kv list")
	}
	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

func isNotFound(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, jetstream.ErrNoKeysFound)
}

func strconvParseTimestamp(ts string) (int64, error) {
	item := telemetry.Item{DeviceID: "x", Timestamp: ts}
	return item.TimestampMs()
}
