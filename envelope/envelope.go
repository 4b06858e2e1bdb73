// Package envelope implements the inter-cloud message format wrapped
// around every cross-boundary call.
package envelope

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/pkg/timestamp"
)

// Provider identifies a cloud provider hosting one or more pipeline tiers.
type Provider string

// Supported providers.
const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
	ProviderGCP   Provider = "gcp"
)

// Valid reports whether the provider is one of the supported values.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP:
		return true
	}
	return false
}

// MessageType distinguishes write traffic from read traffic.
type MessageType string

const (
	// TypeTelemetry marks write-path messages: raw events, items, chunks,
	// twin updates.
	TypeTelemetry MessageType = "telemetry"
	// TypeQuery marks read-path messages on the hot-read boundary.
	TypeQuery MessageType = "query"
)

// Envelope wraps every cross-boundary payload. TraceID is generated by the
// first hop and passed through unchanged; it has observability value only
// and its absence must not break processing.
type Envelope struct {
	SourceCloud Provider        `json:"sourceCloud"`
	TargetLayer string          `json:"targetLayer"`
	MessageType MessageType     `json:"messageType"`
	Timestamp   string          `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
	TraceID     string          `json:"traceId,omitempty"`
}

// Encode builds an envelope around payload, stamping the current UTC time
// and a fresh trace ID.
func Encode(source Provider, targetLayer string, msgType MessageType, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Encode", "marshal payload")
	}
	return &Envelope{
		SourceCloud: source,
		TargetLayer: targetLayer,
		MessageType: msgType,
		Timestamp:   timestamp.Format(timestamp.Now()),
		Payload:     data,
		TraceID:     uuid.New().String(),
	}, nil
}

// Forward re-wraps a payload for the next hop, carrying the trace ID of the
// inbound envelope through unchanged.
func Forward(in *Envelope, source Provider, targetLayer string, msgType MessageType, payload any) (*Envelope, error) {
	out, err := Encode(source, targetLayer, msgType, payload)
	if err != nil {
		return nil, err
	}
	if in != nil && in.TraceID != "" {
		out.TraceID = in.TraceID
	}
	return out, nil
}

// Decode parses envelope bytes. Invalid JSON or a non-object body yields a
// malformed-payload error, never a panic. Unknown extra fields are ignored
// for forward compatibility.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "Envelope", "Decode", "empty body")
	}

	// Reject non-object bodies explicitly: json.Unmarshal would accept
	// "null" into a struct without complaint.
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "Envelope", "Decode", "invalid JSON")
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "Envelope", "Decode", "body is not a JSON object")
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "Envelope", "Decode", "unmarshal envelope")
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (e *Envelope) DecodePayload(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return errors.WrapInvalid(errors.ErrMalformedPayload, "Envelope", "DecodePayload", "unmarshal payload")
	}
	return nil
}

// Bytes serializes the envelope for the wire.
func (e *Envelope) Bytes() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Bytes", "marshal envelope")
	}
	return data, nil
}
