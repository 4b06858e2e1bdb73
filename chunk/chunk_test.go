package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/telemetry"
)

// itemOfSize builds an item whose encoded size is approximately n bytes.
func itemOfSize(device string, hour, n int) telemetry.Item {
	item := telemetry.Item{
		DeviceID:   device,
		Timestamp:  fmt.Sprintf("2025-01-01T%02d:00:00Z", hour),
		Properties: map[string]any{"pad": ""},
	}
	overhead := item.EncodedSize()
	if n > overhead {
		item.Properties["pad"] = strings.Repeat("x", n-overhead)
	}
	return item
}

func TestBuild_EmptyInput(t *testing.T) {
	assert.Empty(t, NewBuilder(nil).Build(nil))
	assert.Empty(t, NewBuilder(nil).Build([]telemetry.Item{}))
}

func TestBuild_PreservesOrderAndCount(t *testing.T) {
	var items []telemetry.Item
	for i := 0; i < 10; i++ {
		items = append(items, itemOfSize("sensor-1", i, 100))
	}

	chunks := NewBuilder(nil, WithMaxBytes(350)).Build(items)

	var reassembled []telemetry.Item
	total := 0
	for _, c := range chunks {
		total += len(c.Items)
		reassembled = append(reassembled, c.Items...)
	}
	assert.Equal(t, len(items), total)
	if diff := cmp.Diff(items, reassembled); diff != "" {
		t.Errorf("concatenated chunks do not reconstruct input (-want +got):\n%s", diff)
	}
}

func TestBuild_RespectsCeiling(t *testing.T) {
	var items []telemetry.Item
	for i := 0; i < 12; i++ {
		items = append(items, itemOfSize("sensor-1", i, 1000))
	}

	chunks := NewBuilder(nil, WithMaxBytes(4096)).Build(items)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.SizeBytes, 4096)
	}
}

func TestBuild_TwelveMBProducesThreeChunks(t *testing.T) {
	// 12 units of 1 MB against a 5 MB ceiling: 5 + 5 + 2.
	mb := 1024 * 1024
	var items []telemetry.Item
	for i := 0; i < 12; i++ {
		items = append(items, itemOfSize("sensor-1", i, mb))
	}

	chunks := NewBuilder(nil).Build(items)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Items, 5)
	assert.Len(t, chunks[1].Items, 5)
	assert.Len(t, chunks[2].Items, 2)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, 2, chunks[2].Index)
}

func TestBuild_OversizedItemIsolatedNotDropped(t *testing.T) {
	hooked := 0
	builder := NewBuilder(nil, WithMaxBytes(500), WithOversizedHook(func(telemetry.Item) {
		hooked++
	}))

	items := []telemetry.Item{
		itemOfSize("sensor-1", 0, 100),
		itemOfSize("sensor-1", 1, 2000), // oversized
		itemOfSize("sensor-1", 2, 100),
	}

	chunks := builder.Build(items)
	require.Len(t, chunks, 3)
	assert.False(t, chunks[0].Oversized())
	assert.True(t, chunks[1].Oversized())
	assert.Len(t, chunks[1].Items, 1)
	assert.False(t, chunks[2].Oversized())
	assert.Equal(t, 1, hooked)
}

func TestBuild_SplitsPerDevice(t *testing.T) {
	items := []telemetry.Item{
		itemOfSize("sensor-1", 0, 100),
		itemOfSize("sensor-1", 1, 100),
		itemOfSize("sensor-2", 2, 100),
		itemOfSize("sensor-2", 3, 100),
	}

	chunks := NewBuilder(nil).Build(items)
	require.Len(t, chunks, 2)
	assert.Equal(t, "sensor-1", chunks[0].DeviceID)
	assert.Equal(t, "sensor-2", chunks[1].DeviceID)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[1].Index) // index counts per device
}

func TestChunk_ObjectKey(t *testing.T) {
	c := Chunk{
		DeviceID:       "sensor-1",
		TimeRangeStart: "2025-01-01T00:00:00Z",
		TimeRangeEnd:   "2025-01-01T03:00:00Z",
		Index:          2,
	}
	assert.Equal(t, "sensor-1/2025-01-01T00:00:00Z/2025-01-01T03:00:00Z/2", c.ObjectKey())
}

func TestChunk_TimeRangeFromItems(t *testing.T) {
	items := []telemetry.Item{
		itemOfSize("sensor-1", 3, 100),
		itemOfSize("sensor-1", 7, 100),
	}

	chunks := NewBuilder(nil).Build(items)
	require.Len(t, chunks, 1)
	assert.Equal(t, "2025-01-01T03:00:00Z", chunks[0].TimeRangeStart)
	assert.Equal(t, "2025-01-01T07:00:00Z", chunks[0].TimeRangeEnd)
}
