package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "rfc3339 passes through", in: "2026-01-01T00:00:00Z", want: "2026-01-01T00:00:00Z"},
		{name: "epoch seconds", in: "1767225600", want: "2026-01-01T00:00:00Z"},
		{name: "epoch milliseconds", in: "1767225600000", want: "2026-01-01T00:00:00Z"},
		{name: "garbage", in: "yesterday", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(telemetry.Item{
				DeviceID:   "sensor-1",
				Timestamp:  tt.in,
				Properties: map[string]any{"v": 1.0},
			})
			if tt.wantErr {
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Timestamp)
		})
	}
}

func localDetector() *boundary.Detector {
	return boundary.NewDetector(
		map[boundary.Layer]envelope.Provider{
			boundary.LayerCompute: envelope.ProviderAWS,
			boundary.LayerHot:     envelope.ProviderAWS,
			boundary.LayerTwin:    envelope.ProviderAWS,
		},
		nil, nil)
}

func item(ts string) telemetry.Item {
	return telemetry.Item{DeviceID: "sensor-1", Timestamp: ts, Properties: map[string]any{"temp": 21.5}}
}

func TestPersist_LocalHotUpsert(t *testing.T) {
	hot := store.NewMemoryHotStore()
	p, err := NewPersister(envelope.ProviderAWS, localDetector(), hot, relay.NewClient(relay.ClientConfig{}, nil, nil), nil)
	require.NoError(t, err)

	require.NoError(t, p.Persist(context.Background(), item("2026-01-01T00:00:00Z")))

	got, err := hot.Latest(context.Background(), "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", got.Timestamp)
}

func TestPersist_RemoteRelaysToWriterNotLocal(t *testing.T) {
	var writes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get(relay.TokenHeader))
		var env envelope.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, string(boundary.LayerHot), env.TargetLayer)
		writes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	det := boundary.NewDetector(
		map[boundary.Layer]envelope.Provider{
			boundary.LayerCompute: envelope.ProviderAWS,
			boundary.LayerHot:     envelope.ProviderAzure,
			boundary.LayerTwin:    envelope.ProviderAWS,
		},
		map[boundary.ID]boundary.Endpoint{
			boundary.ComputeToHot: {URL: srv.URL, Token: "secret"},
		},
		nil)

	hot := store.NewMemoryHotStore()
	p, err := NewPersister(envelope.ProviderAWS, det, hot, relay.NewClient(relay.ClientConfig{}, nil, nil), nil)
	require.NoError(t, err)

	require.NoError(t, p.Persist(context.Background(), item("2026-01-01T00:00:00Z")))
	assert.Equal(t, int64(1), writes.Load())

	// Never both: the local store stays untouched.
	_, err = hot.Latest(context.Background(), "sensor-1")
	assert.Error(t, err)
}

func TestPersist_TwinPushWhenProvidersDiffer(t *testing.T) {
	var twinPushes atomic.Int64
	twinSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, string(boundary.LayerTwin), env.TargetLayer)
		twinPushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer twinSrv.Close()

	det := boundary.NewDetector(
		map[boundary.Layer]envelope.Provider{
			boundary.LayerCompute: envelope.ProviderAWS,
			boundary.LayerHot:     envelope.ProviderAWS,
			boundary.LayerTwin:    envelope.ProviderGCP,
		},
		map[boundary.ID]boundary.Endpoint{
			boundary.ComputeToTwin: {URL: twinSrv.URL, Token: "secret"},
		},
		nil)

	hot := store.NewMemoryHotStore()
	p, err := NewPersister(envelope.ProviderAWS, det, hot, relay.NewClient(relay.ClientConfig{}, nil, nil), nil)
	require.NoError(t, err)

	require.NoError(t, p.Persist(context.Background(), item("2026-01-01T00:00:00Z")))
	assert.Equal(t, int64(1), twinPushes.Load())
}

func TestPersist_TwinPushFailureDoesNotFailPersist(t *testing.T) {
	twinSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer twinSrv.Close()

	det := boundary.NewDetector(
		map[boundary.Layer]envelope.Provider{
			boundary.LayerCompute: envelope.ProviderAWS,
			boundary.LayerHot:     envelope.ProviderAWS,
			boundary.LayerTwin:    envelope.ProviderGCP,
		},
		map[boundary.ID]boundary.Endpoint{
			boundary.ComputeToTwin: {URL: twinSrv.URL, Token: "secret"},
		},
		nil)

	hot := store.NewMemoryHotStore()
	p, err := NewPersister(envelope.ProviderAWS, det, hot, relay.NewClient(relay.ClientConfig{}, nil, nil), nil)
	require.NoError(t, err)

	require.NoError(t, p.Persist(context.Background(), item("2026-01-01T00:00:00Z")))

	// The storage write still happened.
	got, err := hot.Latest(context.Background(), "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", got.DeviceID)
}

func TestProcessor_HandleNormalizesBeforePersist(t *testing.T) {
	hot := store.NewMemoryHotStore()
	persister, err := NewPersister(envelope.ProviderAWS, localDetector(), hot, relay.NewClient(relay.ClientConfig{}, nil, nil), nil)
	require.NoError(t, err)
	p, err := New(persister, nil)
	require.NoError(t, err)

	require.NoError(t, p.Handle(context.Background(), item("1767225600")))

	got, err := hot.Latest(context.Background(), "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", got.Timestamp)
}
