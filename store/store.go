// Package store defines the storage contracts of the three tiers: the Hot
// per-item store and the Cold/Archive object stores. Durability and
// idempotency come from deterministic keys, not coordination; every write
// is an upsert and every adapter must tolerate duplicate delivery.
package store

import (
	"context"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/telemetry"
)

// ItemKey identifies one hot-tier item.
type ItemKey struct {
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
}

// Key renders the identity key "deviceId/timestamp".
func (k ItemKey) Key() string {
	return k.DeviceID + "/" + k.Timestamp
}

// KeyOf extracts the identity key of an item.
func KeyOf(item telemetry.Item) ItemKey {
	return ItemKey{DeviceID: item.DeviceID, Timestamp: item.Timestamp}
}

// Page is one page of a hot-store scan.
type Page struct {
	Items []telemetry.Item
	// NextToken resumes the scan; empty when the scan is complete.
	NextToken string
}

// HotStore is the low-latency per-item store, queryable by device and
// time range. Upserts keyed (deviceId, timestamp) are naturally
// idempotent: duplicate delivery overwrites identical data.
type HotStore interface {
	// Upsert writes one item, overwriting any existing item with the
	// same identity key.
	Upsert(ctx context.Context, item telemetry.Item) error

	// UpsertBatch writes many items with the same idempotency guarantee.
	UpsertBatch(ctx context.Context, items []telemetry.Item) error

	// QueryRange returns a device's items with startMs <= ts <= endMs,
	// in timestamp order.
	QueryRange(ctx context.Context, deviceID string, startMs, endMs int64) ([]telemetry.Item, error)

	// Latest returns a device's most recent item, or ErrKeyNotFound.
	Latest(ctx context.Context, deviceID string) (telemetry.Item, error)

	// ListOlderThan pages through items with ts < cutoffMs, ordered by
	// device then timestamp so consecutive items chunk per device.
	ListOlderThan(ctx context.Context, cutoffMs int64, pageToken string, limit int) (Page, error)

	// DeleteBatch removes items by identity key. Deleting an absent key
	// is not an error: a mover retrying after a partial failure may
	// re-delete.
	DeleteBatch(ctx context.Context, keys []ItemKey) error
}

// Object describes one stored chunk object.
type Object struct {
	Key        string
	Size       int64
	ModifiedMs int64
}

// ObjectStore is the chunk-object store backing the Cold and Archive
// tiers. Put is an upsert by object key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns objects under prefix; an empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes an object; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Copy performs a direct store-to-store transfer of one object, used for
// same-cloud cold-to-archive moves where no relay hop is needed.
func Copy(ctx context.Context, src, dst ObjectStore, key string) error {
	data, err := src.Get(ctx, key)
	if err != nil {
		return errors.Wrap(err, "store", "Copy", "read source object")
	}
	if err := dst.Put(ctx, key, data); err != nil {
		return errors.Wrap(err, "store", "Copy", "write destination object")
	}
	return nil
}
