// Package writer terminates inbound relay traffic on the storage side
// of a boundary. Every write is an upsert on the payload's identity
// key, so the bounded retry on the sending side can never duplicate
// data.
package writer

import (
	"log/slog"
	"net/http"

	"github.com/c360/cloudrelay/chunk"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

// Hot writes relayed items into the local hot store.
type Hot struct {
	hot    store.HotStore
	logger *slog.Logger
}

// NewHot creates the hot-tier writer.
func NewHot(hot store.HotStore, logger *slog.Logger) (*Hot, error) {
	if hot == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "writer", "NewHot", "hot store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hot{hot: hot, logger: logger}, nil
}

// HTTPHandler mounts the writer behind the shared relay endpoint.
func (h *Hot) HTTPHandler(token string) http.HandlerFunc {
	return relay.Endpoint("writer.hot", token, relay.DefaultMaxBodyBytes, h.logger, h.handle)
}

// handle accepts one item or a batch of items.
func (h *Hot) handle(r *http.Request, env *envelope.Envelope) (any, error) {
	var items []telemetry.Item
	if err := env.DecodePayload(&items); err != nil {
		var single telemetry.Item
		if err := env.DecodePayload(&single); err != nil {
			return nil, err
		}
		items = []telemetry.Item{single}
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, err
		}
	}

	if err := h.hot.UpsertBatch(r.Context(), items); err != nil {
		return nil, err
	}

	h.logger.Debug("hot write stored",
		"items", len(items),
		"traceId", env.TraceID)
	return map[string]any{"status": "stored", "items": len(items)}, nil
}

// Cold writes relayed chunks into a local object store under the
// chunk's object key.
type Cold struct {
	objects store.ObjectStore
	logger  *slog.Logger
}

// NewCold creates the cold-tier writer.
func NewCold(objects store.ObjectStore, logger *slog.Logger) (*Cold, error) {
	if objects == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "writer", "NewCold", "object store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cold{objects: objects, logger: logger}, nil
}

// HTTPHandler mounts the writer behind the shared relay endpoint.
func (c *Cold) HTTPHandler(token string) http.HandlerFunc {
	return relay.Endpoint("writer.cold", token, relay.DefaultMaxBodyBytes, c.logger, c.handle)
}

func (c *Cold) handle(r *http.Request, env *envelope.Envelope) (any, error) {
	ch, err := decodeChunk(env)
	if err != nil {
		return nil, err
	}

	key := ch.ObjectKey()
	if err := c.objects.Put(r.Context(), key, env.Payload); err != nil {
		return nil, err
	}

	c.logger.Debug("cold write stored",
		"key", key,
		"items", len(ch.Items),
		"traceId", env.TraceID)
	return map[string]string{"status": "stored", "key": key}, nil
}

// decodeChunk validates the identity fields a chunk payload must carry.
func decodeChunk(env *envelope.Envelope) (chunk.Chunk, error) {
	var ch chunk.Chunk
	if err := env.DecodePayload(&ch); err != nil {
		return chunk.Chunk{}, err
	}
	if ch.DeviceID == "" || ch.TimeRangeStart == "" || ch.TimeRangeEnd == "" {
		return chunk.Chunk{}, errors.WrapInvalid(errors.ErrMalformedPayload, "writer", "decodeChunk", "chunk identity fields")
	}
	return ch, nil
}
