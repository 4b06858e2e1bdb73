package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/testutil"
)

func newTestStore(ctx context.Context, t *testing.T, natsURL string) *Store {
	t.Helper()

	nc := testutil.ConnectNATS(ctx, t, natsURL, "objectstore-test")

	bucket, err := nc.ObjectStore(ctx, "cold-test")
	require.NoError(t, err)

	return New(bucket, nil)
}

func TestIntegration_PutGetRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsURL := testutil.StartNATSContainer(ctx, t)

	s := newTestStore(ctx, t, natsURL)

	key := "sensor-1/2026-01-01T00:00:00Z/2026-01-01T01:00:00Z/0"
	payload := []byte(`[{"deviceId":"sensor-1","timestamp":"2026-01-01T00:00:00Z"}]`)

	require.NoError(t, s.Put(ctx, key, payload))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Re-putting the same key replaces it.
	require.NoError(t, s.Put(ctx, key, []byte("v2")))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestIntegration_GetMissingKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsURL := testutil.StartNATSContainer(ctx, t)

	s := newTestStore(ctx, t, natsURL)

	_, err := s.Get(ctx, "absent/key")
	assert.Error(t, err)
}

func TestIntegration_ListByPrefixAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	natsURL := testutil.StartNATSContainer(ctx, t)

	s := newTestStore(ctx, t, natsURL)

	empty, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Put(ctx, "sensor-1/a/0", []byte("a")))
	require.NoError(t, s.Put(ctx, "sensor-1/b/0", []byte("b")))
	require.NoError(t, s.Put(ctx, "sensor-2/a/0", []byte("c")))

	objs, err := s.List(ctx, "sensor-1/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "sensor-1/a/0", objs[0].Key)
	assert.Equal(t, int64(1), objs[0].Size)
	assert.Positive(t, objs[0].ModifiedMs)

	require.NoError(t, s.Delete(ctx, "sensor-1/a/0"))
	// Deleting again must not fail.
	require.NoError(t, s.Delete(ctx, "sensor-1/a/0"))

	objs, err = s.List(ctx, "sensor-1/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "sensor-1/b/0", objs[0].Key)
}
