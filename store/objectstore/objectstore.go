// Package objectstore implements the Cold and Archive tiers on a NATS
// JetStream object store bucket. Chunks are stored whole under their
// identity key, so re-writing the same chunk replaces it in place.
package objectstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/store"
)

// Store is an ObjectStore backed by a JetStream object store bucket.
type Store struct {
	os     jetstream.ObjectStore
	logger *slog.Logger
}

var _ store.ObjectStore = (*Store)(nil)

// New creates an object store over an open bucket.
func New(os jetstream.ObjectStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{os: os, logger: logger}
}

// Put implements store.ObjectStore. PutBytes replaces any existing
// object under the same name, which makes chunk writes idempotent.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidQuery, "objectstore", "Put", "empty key")
	}
	if _, err := s.os.PutBytes(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "objectstore", "Put", "put object")
	}
	return nil
}

// Get implements store.ObjectStore.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.os.GetBytes(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, errors.Wrap(errors.ErrKeyNotFound, "objectstore", "Get", key)
		}
		return nil, errors.WrapTransient(err, "objectstore", "Get", "get object")
	}
	return data, nil
}

// List implements store.ObjectStore. An empty bucket is an empty
// listing, not an error.
func (s *Store) List(ctx context.Context, prefix string) ([]store.Object, error) {
	infos, err := s.os.List(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "objectstore", "List", "list objects")
	}

	var out []store.Object
	for _, info := range infos {
		if info.Deleted || !strings.HasPrefix(info.Name, prefix) {
			continue
		}
		out = append(out, store.Object{
			Key:        info.Name,
			Size:       int64(info.Size),
			ModifiedMs: info.ModTime.UnixMilli(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements store.ObjectStore. Deleting an absent object is
// tolerated so movers can re-delete after a partial failure.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.os.Delete(ctx, key); err != nil {
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil
		}
		return errors.WrapTransient(err, "objectstore", "Delete", "delete object")
	}
	return nil
}
