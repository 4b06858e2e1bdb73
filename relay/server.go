package relay

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
)

// DefaultMaxBodyBytes bounds inbound relay bodies. Slightly above the
// chunk ceiling to leave room for the envelope itself.
const DefaultMaxBodyBytes = 6 * 1024 * 1024

// HandlerFunc processes a decoded envelope and returns the receiver-specific
// response body.
type HandlerFunc func(r *http.Request, env *envelope.Envelope) (any, error)

// Endpoint wraps a relay handler with the plumbing every receiving
// function shares: method filtering, request IDs, token validation,
// size-limited body reads, envelope decoding, and error-to-status mapping.
// The token is validated with an exact match; an empty or missing token is
// always rejected, never treated as "no auth required".
func Endpoint(component, token string, maxBodyBytes int64, logger *slog.Logger, fn HandlerFunc) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	return func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := ValidateToken(token, r.Header.Get(TokenHeader)); err != nil {
			logger.Warn("relay token rejected",
				"component", component,
				"request_id", requestID,
				"remote", r.RemoteAddr)
			WriteError(w, StatusFromError(err), "invalid or missing token")
			return
		}

		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if int64(len(body)) > maxBodyBytes {
			WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		env, err := envelope.Decode(body)
		if err != nil {
			logger.Warn("malformed relay payload",
				"component", component,
				"request_id", requestID,
				"error", err)
			WriteError(w, http.StatusBadRequest, "malformed payload")
			return
		}

		result, err := fn(r, env)
		if err != nil {
			status := StatusFromError(err)
			logger.Error("relay handler failed",
				"component", component,
				"request_id", requestID,
				"trace_id", env.TraceID,
				"status", status,
				"error", err)
			WriteError(w, status, sanitizeError(err))
			return
		}

		WriteJSON(w, http.StatusOK, result)
	}
}

// ValidateToken performs the exact-match shared-secret check. The expected
// token missing from configuration is itself an error; receivers must not
// run tokenless.
func ValidateToken(expected, presented string) error {
	if expected == "" {
		return errors.WrapConfig(errors.ErrMissingToken, "relay", "ValidateToken", "receiver token unset")
	}
	if presented == "" {
		return errors.WrapAuth(errors.ErrTokenMissing, "relay", "ValidateToken", "no token presented")
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) != 1 {
		return errors.WrapAuth(errors.ErrTokenMismatch, "relay", "ValidateToken", "token comparison")
	}
	return nil
}

// RequestID extracts the X-Request-ID header or generates a fresh ID for
// correlation across hops.
func RequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "req-unknown"
	}
	return hex.EncodeToString(b)
}

// StatusFromError maps the error taxonomy onto the wire protocol's status
// codes: 400 malformed, 401 missing token, 403 invalid token, 500 for
// configuration and internal failures.
func StatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrTokenMissing):
		return http.StatusUnauthorized
	case errors.IsAuth(err):
		return http.StatusForbidden
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe message for external clients; full detail
// stays in the structured log line.
func sanitizeError(err error) string {
	switch {
	case errors.IsAuth(err):
		return "access denied"
	case errors.IsInvalid(err):
		return "invalid request"
	default:
		return "internal server error"
	}
}

// WriteError writes the JSON error body used by every relay endpoint.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}
