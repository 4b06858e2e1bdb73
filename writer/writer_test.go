package writer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/chunk"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

func item(ts string, v float64) telemetry.Item {
	return telemetry.Item{DeviceID: "sensor-1", Timestamp: ts, Properties: map[string]any{"v": v}}
}

func send(t *testing.T, url, token string, payload any) (*relay.Response, error) {
	t.Helper()
	env, err := envelope.Encode(envelope.ProviderAWS, "l3_hot", envelope.TypeTelemetry, payload)
	require.NoError(t, err)
	client := relay.NewClient(relay.ClientConfig{}, nil, nil)
	return client.Send(context.Background(), url, token, env)
}

func TestHotWriter_UpsertsSingleItem(t *testing.T) {
	hot := store.NewMemoryHotStore()
	w, err := NewHot(hot, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(w.HTTPHandler("secret"))
	defer srv.Close()

	resp, err := send(t, srv.URL, "secret", item("2026-01-01T00:00:00Z", 1))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := hot.Latest(context.Background(), "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", got.Timestamp)
}

func TestHotWriter_DuplicateDeliveryOverwrites(t *testing.T) {
	hot := store.NewMemoryHotStore()
	w, err := NewHot(hot, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(w.HTTPHandler("secret"))
	defer srv.Close()

	_, err = send(t, srv.URL, "secret", item("2026-01-01T00:00:00Z", 1))
	require.NoError(t, err)
	_, err = send(t, srv.URL, "secret", item("2026-01-01T00:00:00Z", 1))
	require.NoError(t, err)

	items, err := hot.QueryRange(context.Background(), "sensor-1", 0, 1<<62)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestHotWriter_AcceptsBatch(t *testing.T) {
	hot := store.NewMemoryHotStore()
	w, err := NewHot(hot, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(w.HTTPHandler("secret"))
	defer srv.Close()

	batch := []telemetry.Item{
		item("2026-01-01T00:00:00Z", 1),
		item("2026-01-01T00:01:00Z", 2),
	}
	resp, err := send(t, srv.URL, "secret", batch)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	items, err := hot.QueryRange(context.Background(), "sensor-1", 0, 1<<62)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestHotWriter_TokenMismatchNoMutation(t *testing.T) {
	hot := store.NewMemoryHotStore()
	w, err := NewHot(hot, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(w.HTTPHandler("secret"))
	defer srv.Close()

	_, err = send(t, srv.URL, "wrong", item("2026-01-01T00:00:00Z", 1))
	assert.Error(t, err)

	_, err = hot.Latest(context.Background(), "sensor-1")
	assert.Error(t, err)
}

func TestColdWriter_UpsertsByObjectKey(t *testing.T) {
	objects := store.NewMemoryObjectStore()
	w, err := NewCold(objects, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(w.HTTPHandler("secret"))
	defer srv.Close()

	ch := chunk.Chunk{
		DeviceID:       "sensor-1",
		TimeRangeStart: "2026-01-01T00:00:00Z",
		TimeRangeEnd:   "2026-01-01T01:00:00Z",
		Index:          0,
		Items:          []telemetry.Item{item("2026-01-01T00:00:00Z", 1)},
	}

	resp, err := send(t, srv.URL, "secret", ch)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Re-delivery replaces the object instead of duplicating it.
	_, err = send(t, srv.URL, "secret", ch)
	require.NoError(t, err)

	objs, err := objects.List(context.Background(), "sensor-1/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, ch.ObjectKey(), objs[0].Key)

	data, err := objects.Get(context.Background(), ch.ObjectKey())
	require.NoError(t, err)
	var stored chunk.Chunk
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Len(t, stored.Items, 1)
}

func TestColdWriter_RejectsChunkWithoutIdentity(t *testing.T) {
	w, err := NewCold(store.NewMemoryObjectStore(), nil)
	require.NoError(t, err)

	srv := httptest.NewServer(w.HTTPHandler("secret"))
	defer srv.Close()

	_, err = send(t, srv.URL, "secret", map[string]any{"items": []any{}})
	assert.Error(t, err)
}
