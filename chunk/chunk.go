// Package chunk implements the size-bounded batching that keeps every
// cross-cloud transfer under the per-provider payload ceiling.
package chunk

import (
	"fmt"
	"log/slog"

	"github.com/c360/cloudrelay/telemetry"
)

// MaxBytes is the chunk ceiling: 5 MB, the minimum across the payload
// limits of all supported providers.
const MaxBytes = 5 * 1024 * 1024

// Chunk is an ordered batch of items for one device. Its identity key
// doubles as the storage object key in the Cold and Archive tiers, so
// re-delivery of the same chunk overwrites instead of duplicating.
type Chunk struct {
	DeviceID       string           `json:"deviceId"`
	TimeRangeStart string           `json:"timeRangeStart"`
	TimeRangeEnd   string           `json:"timeRangeEnd"`
	Index          int              `json:"chunkIndex"`
	Items          []telemetry.Item `json:"items"`
	SizeBytes      int              `json:"sizeBytes"`
}

// ObjectKey returns the storage key "deviceId/start/end/index".
func (c Chunk) ObjectKey() string {
	return fmt.Sprintf("%s/%s/%s/%d", c.DeviceID, c.TimeRangeStart, c.TimeRangeEnd, c.Index)
}

// Oversized reports whether the chunk holds a single item that alone
// exceeds the ceiling.
func (c Chunk) Oversized() bool {
	return len(c.Items) == 1 && c.SizeBytes > MaxBytes
}

// Builder bin-packs items into chunks. The zero value is not usable;
// call NewBuilder.
type Builder struct {
	maxBytes  int
	logger    *slog.Logger
	oversized func(telemetry.Item) // observability hook, may be nil
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxBytes overrides the chunk ceiling, used by the archive mover when
// re-chunking cold objects into transfer parts.
func WithMaxBytes(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

// WithOversizedHook registers a callback invoked once per oversized item,
// used to feed the oversized-items metric.
func WithOversizedHook(fn func(telemetry.Item)) Option {
	return func(b *Builder) { b.oversized = fn }
}

// NewBuilder creates a Builder with the 5 MB default ceiling.
func NewBuilder(logger *slog.Logger, opts ...Option) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{maxBytes: MaxBytes, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build greedily packs items into chunks, preserving input order. A chunk
// closes when adding the next item would exceed the ceiling or when the
// device changes, so every chunk belongs to exactly one device. A single
// item exceeding the ceiling alone is placed in its own chunk and logged
// as a warning rather than dropped or split. Empty input produces an
// empty chunk list.
func (b *Builder) Build(items []telemetry.Item) []Chunk {
	if len(items) == 0 {
		return nil
	}

	var chunks []Chunk
	indexByDevice := make(map[string]int)

	var current []telemetry.Item
	currentSize := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		device := current[0].DeviceID
		c := Chunk{
			DeviceID:       device,
			TimeRangeStart: current[0].Timestamp,
			TimeRangeEnd:   current[len(current)-1].Timestamp,
			Index:          indexByDevice[device],
			Items:          current,
			SizeBytes:      currentSize,
		}
		indexByDevice[device]++
		chunks = append(chunks, c)
		current = nil
		currentSize = 0
	}

	for _, item := range items {
		size := item.EncodedSize()

		if size > b.maxBytes {
			// Oversized: isolate in its own chunk, warn, keep going.
			flush()
			b.logger.Warn("telemetry item exceeds chunk ceiling, emitting oversized chunk",
				"device", item.DeviceID,
				"timestamp", item.Timestamp,
				"size_bytes", size,
				"ceiling_bytes", b.maxBytes)
			if b.oversized != nil {
				b.oversized(item)
			}
			current = []telemetry.Item{item}
			currentSize = size
			flush()
			continue
		}

		if len(current) > 0 &&
			(current[0].DeviceID != item.DeviceID || currentSize+size > b.maxBytes) {
			flush()
		}

		current = append(current, item)
		currentSize += size
	}
	flush()

	return chunks
}
