package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/metric"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/telemetry"
)

type recordingProcessor struct {
	items []telemetry.Item
	err   error
}

func (p *recordingProcessor) Handle(_ context.Context, item telemetry.Item) error {
	p.items = append(p.items, item)
	return p.err
}

const propertiesSchema = `{
	"type": "object",
	"properties": {
		"temp": {"type": "number"}
	},
	"required": ["temp"]
}`

func send(t *testing.T, url, token string, payload any) (*relay.Response, error) {
	t.Helper()
	env, err := envelope.Encode(envelope.ProviderAWS, "l2", envelope.TypeTelemetry, payload)
	require.NoError(t, err)
	client := relay.NewClient(relay.ClientConfig{}, nil, nil)
	return client.Send(context.Background(), url, token, env)
}

func validItem() telemetry.Item {
	return telemetry.Item{
		DeviceID:   "sensor-1",
		Timestamp:  "2026-01-01T00:00:00Z",
		Properties: map[string]any{"temp": 21.5},
	}
}

func TestHandler_AcceptsValidEvent(t *testing.T) {
	proc := &recordingProcessor{}
	h, err := New(proc, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(h.HTTPHandler("secret"))
	defer srv.Close()

	resp, err := send(t, srv.URL, "secret", validItem())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, proc.items, 1)
	assert.Equal(t, "sensor-1", proc.items[0].DeviceID)
}

func TestHandler_RejectsInvalidItem(t *testing.T) {
	proc := &recordingProcessor{}
	h, err := New(proc, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(h.HTTPHandler("secret"))
	defer srv.Close()

	_, err = send(t, srv.URL, "secret", map[string]any{"timestamp": "2026-01-01T00:00:00Z"})
	require.Error(t, err)
	assert.Empty(t, proc.items)
}

func TestHandler_SchemaRejection(t *testing.T) {
	proc := &recordingProcessor{}
	registry := metric.NewRegistry()
	schemaOpt, err := WithSchema(propertiesSchema)
	require.NoError(t, err)
	h, err := New(proc, nil, schemaOpt, WithMetrics(registry.Metrics))
	require.NoError(t, err)

	srv := httptest.NewServer(h.HTTPHandler("secret"))
	defer srv.Close()

	item := validItem()
	item.Properties = map[string]any{"temp": "hot"}
	_, err = send(t, srv.URL, "secret", item)
	require.Error(t, err)
	assert.Empty(t, proc.items)

	item = validItem()
	resp, err := send(t, srv.URL, "secret", item)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, proc.items, 1)
}

func TestHandler_ProcessorErrorSurfaces(t *testing.T) {
	proc := &recordingProcessor{err: errors.WrapTransient(errors.ErrStoreUnavailable, "test", "Handle", "boom")}
	h, err := New(proc, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(h.HTTPHandler("secret"))
	defer srv.Close()

	_, err = send(t, srv.URL, "secret", validItem())
	require.Error(t, err)
}

func TestHandler_TokenMismatch(t *testing.T) {
	proc := &recordingProcessor{}
	h, err := New(proc, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(h.HTTPHandler("secret"))
	defer srv.Close()

	_, err = send(t, srv.URL, "wrong", validItem())
	require.Error(t, err)
	assert.Empty(t, proc.items)
}

func TestWithSchema_RejectsBadSchema(t *testing.T) {
	_, err := WithSchema("{")
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestNew_RequiresProcessor(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}
