// Package connector forwards device events across the ingestion to
// compute boundary when the two tiers live in different clouds.
package connector

import (
	"context"
	"log/slog"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/telemetry"
)

// Connector relays events to the remote compute tier's ingestion
// endpoint. It implements dispatcher.Handler.
type Connector struct {
	source   envelope.Provider
	detector *boundary.Detector
	client   *relay.Client
	logger   *slog.Logger
}

// New creates a connector sending on behalf of the given source cloud.
func New(source envelope.Provider, detector *boundary.Detector, client *relay.Client, logger *slog.Logger) (*Connector, error) {
	if !source.Valid() {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "connector", "New", "source provider")
	}
	if detector == nil || client == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "connector", "New", "detector and relay client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{source: source, detector: detector, client: client, logger: logger}, nil
}

// Handle wraps the event in an envelope and POSTs it to the remote
// compute tier. The endpoint lookup fails fast on missing URL or token
// so misconfiguration never reaches the network.
func (c *Connector) Handle(ctx context.Context, item telemetry.Item) error {
	endpoint, err := c.detector.Endpoint(boundary.IngestToCompute)
	if err != nil {
		return err
	}

	env, err := envelope.Encode(c.source, string(boundary.LayerCompute), envelope.TypeTelemetry, item)
	if err != nil {
		return err
	}

	c.logger.Debug("forwarding event to remote compute tier",
		"device", item.DeviceID,
		"traceId", env.TraceID)

	if _, err := c.client.Send(ctx, endpoint.URL, endpoint.Token, env); err != nil {
		return errors.Wrap(err, "connector", "Handle", "relay event")
	}
	return nil
}
