package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
)

func postEnvelope(t *testing.T, handler http.HandlerFunc, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/relay", bytes.NewReader(body))
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func envelopeBody(t *testing.T) []byte {
	t.Helper()
	env, err := envelope.Encode(envelope.ProviderAzure, "l3_hot", envelope.TypeTelemetry,
		map[string]any{"deviceId": "sensor-1"})
	require.NoError(t, err)
	data, err := env.Bytes()
	require.NoError(t, err)
	return data
}

func TestEndpoint_Success(t *testing.T) {
	called := false
	handler := Endpoint("test", "secret", 0, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
		called = true
		assert.Equal(t, envelope.ProviderAzure, env.SourceCloud)
		return map[string]any{"written": true}, nil
	})

	rec := postEnvelope(t, handler, "secret", envelopeBody(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["written"])
}

func TestEndpoint_MissingToken(t *testing.T) {
	handler := Endpoint("test", "secret", 0, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
		t.Fatal("handler must not run without a valid token")
		return nil, nil
	})

	rec := postEnvelope(t, handler, "", envelopeBody(t))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEndpoint_WrongToken(t *testing.T) {
	handler := Endpoint("test", "secret", 0, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
		t.Fatal("handler must not run with a wrong token")
		return nil, nil
	})

	rec := postEnvelope(t, handler, "not-the-secret", envelopeBody(t))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEndpoint_MalformedBody(t *testing.T) {
	handler := Endpoint("test", "secret", 0, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
		t.Fatal("handler must not run on malformed payload")
		return nil, nil
	})

	rec := postEnvelope(t, handler, "secret", []byte("{broken"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndpoint_MethodFilter(t *testing.T) {
	handler := Endpoint("test", "secret", 0, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
		return nil, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/relay", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEndpoint_BodyTooLarge(t *testing.T) {
	handler := Endpoint("test", "secret", 64, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
		return nil, nil
	})

	rec := postEnvelope(t, handler, "secret", envelopeBody(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestEndpoint_HandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", errors.WrapInvalid(errors.ErrMalformedPayload, "h", "f", "a"), http.StatusBadRequest},
		{"auth", errors.WrapAuth(errors.ErrTokenMismatch, "h", "f", "a"), http.StatusForbidden},
		{"transient", errors.WrapTransient(errors.ErrStoreUnavailable, "h", "f", "a"), http.StatusInternalServerError},
		{"config", errors.WrapConfig(errors.ErrMissingConfig, "h", "f", "a"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Endpoint("test", "secret", 0, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
				return nil, tt.err
			})
			rec := postEnvelope(t, handler, "secret", envelopeBody(t))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestEndpoint_PreservesInboundRequestID(t *testing.T) {
	handler := Endpoint("test", "secret", 0, nil, func(r *http.Request, env *envelope.Envelope) (any, error) {
		return map[string]any{}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/relay", bytes.NewReader(envelopeBody(t)))
	req.Header.Set(TokenHeader, "secret")
	req.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, ValidateToken("secret", "secret"))

	err := ValidateToken("secret", "")
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))

	err = ValidateToken("secret", "other")
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))

	// Receiver without a configured token is broken deployment, not open door.
	err = ValidateToken("", "anything")
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized,
		StatusFromError(errors.WrapAuth(errors.ErrTokenMissing, "c", "m", "a")))
	assert.Equal(t, http.StatusForbidden,
		StatusFromError(errors.WrapAuth(errors.ErrTokenMismatch, "c", "m", "a")))
	assert.Equal(t, http.StatusBadRequest,
		StatusFromError(errors.WrapInvalid(errors.ErrMalformedPayload, "c", "m", "a")))
	assert.Equal(t, http.StatusInternalServerError, StatusFromError(nil))
}
