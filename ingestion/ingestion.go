// Package ingestion receives relayed device events on the compute tier.
// It is the server half of the ingestion to compute boundary; the token
// check, body limits, and envelope decode happen in the shared relay
// endpoint plumbing.
package ingestion

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/metric"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/telemetry"
)

const boundaryLabel = "l1_to_l2"

// Processor consumes a validated inbound event.
type Processor interface {
	Handle(ctx context.Context, item telemetry.Item) error
}

// Handler terminates the ingestion boundary.
type Handler struct {
	processor Processor
	schema    *gojsonschema.Schema
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// Option configures optional handler behavior.
type Option func(*Handler)

// WithSchema enables JSON-schema validation of event properties. Events
// failing validation are rejected with HTTP 400.
func WithSchema(schemaJSON string) (Option, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, errors.WrapConfig(err, "ingestion", "WithSchema", "compile schema")
	}
	return func(h *Handler) { h.schema = schema }, nil
}

// WithMetrics enables ingestion counters.
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates an ingestion handler in front of a processor.
func New(processor Processor, logger *slog.Logger, opts ...Option) (*Handler, error) {
	if processor == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "ingestion", "New", "processor")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{processor: processor, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// HTTPHandler mounts the handler behind the shared relay endpoint with
// the boundary's shared secret.
func (h *Handler) HTTPHandler(token string) http.HandlerFunc {
	return relay.Endpoint("ingestion", token, relay.DefaultMaxBodyBytes, h.logger, h.handle)
}

// handle decodes and validates one relayed event, then invokes the
// processor synchronously so the HTTP status reflects the outcome.
func (h *Handler) handle(r *http.Request, env *envelope.Envelope) (any, error) {
	var item telemetry.Item
	if err := env.DecodePayload(&item); err != nil {
		h.reject("decode")
		return nil, err
	}
	if err := item.Validate(); err != nil {
		h.reject("validate")
		return nil, err
	}

	if h.schema != nil {
		result, err := h.schema.Validate(gojsonschema.NewGoLoader(item.Properties))
		if err != nil {
			h.reject("schema")
			return nil, errors.WrapInvalid(err, "ingestion", "handle", "schema validation")
		}
		if !result.Valid() {
			h.reject("schema")
			h.logger.Warn("event failed schema validation",
				"device", item.DeviceID,
				"violations", len(result.Errors()))
			return nil, errors.WrapInvalid(errors.ErrInvalidItem, "ingestion", "handle", "properties violate schema")
		}
	}

	if err := h.processor.Handle(r.Context(), item); err != nil {
		return nil, err
	}

	if h.metrics != nil {
		h.metrics.EventsIngested.WithLabelValues(boundaryLabel).Inc()
	}
	h.logger.Debug("event ingested",
		"device", item.DeviceID,
		"traceId", env.TraceID)

	return map[string]string{"status": "accepted", "deviceId": item.DeviceID}, nil
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.EventsRejected.WithLabelValues(boundaryLabel, reason).Inc()
	}
}
