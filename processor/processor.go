// Package processor transforms inbound device events on the compute
// tier and persists them toward the hot tier. Persistence is either a
// local hot-store upsert or a relay to the remote writer, never both;
// the boundary detector decides per event.
package processor

import (
	"context"
	"log/slog"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/pkg/timestamp"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

// Processor normalizes events and hands them to the persister. It
// implements dispatcher.Handler and ingestion.Processor.
type Processor struct {
	persister *Persister
	logger    *slog.Logger
}

// New creates a processor.
func New(persister *Persister, logger *slog.Logger) (*Processor, error) {
	if persister == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "processor", "New", "persister")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{persister: persister, logger: logger}, nil
}

// Handle normalizes one event and persists it.
func (p *Processor) Handle(ctx context.Context, item telemetry.Item) error {
	normalized, err := Normalize(item)
	if err != nil {
		return err
	}
	return p.persister.Persist(ctx, normalized)
}

// Normalize canonicalizes the event timestamp. Devices report epoch
// seconds, epoch milliseconds, or RFC3339 strings; storage keys need
// the sortable RFC3339 UTC form.
func Normalize(item telemetry.Item) (telemetry.Item, error) {
	ms := timestamp.Parse(item.Timestamp)
	if ms <= 0 {
		return telemetry.Item{}, errors.WrapInvalid(errors.ErrInvalidItem, "processor", "Normalize", "unparseable timestamp")
	}
	item.Timestamp = timestamp.Format(ms)
	if err := item.Validate(); err != nil {
		return telemetry.Item{}, err
	}
	return item, nil
}

// Persister writes one item into the hot tier, locally or across the
// compute to hot boundary, and afterwards pushes a twin update when the
// twin tier lives in another cloud.
type Persister struct {
	source   envelope.Provider
	detector *boundary.Detector
	hot      store.HotStore
	client   *relay.Client
	logger   *slog.Logger
}

// NewPersister creates a persister. The hot store may be nil only in
// deployments where the hot tier is always remote.
func NewPersister(source envelope.Provider, detector *boundary.Detector, hot store.HotStore, client *relay.Client, logger *slog.Logger) (*Persister, error) {
	if !source.Valid() {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "processor", "NewPersister", "source provider")
	}
	if detector == nil || client == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "processor", "NewPersister", "detector and relay client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{source: source, detector: detector, hot: hot, client: client, logger: logger}, nil
}

// Persist stores one item in the hot tier. The twin push runs after a
// successful storage write; its failure is logged and never surfaces,
// so twin lag can never lose telemetry.
func (p *Persister) Persist(ctx context.Context, item telemetry.Item) error {
	remote, err := p.detector.IsRemote(boundary.ComputeToHot)
	if err != nil {
		return err
	}

	if remote {
		if err := p.relayToWriter(ctx, item); err != nil {
			return err
		}
	} else {
		if p.hot == nil {
			return errors.WrapConfig(errors.ErrMissingConfig, "processor", "Persist", "local hot store")
		}
		if err := p.hot.Upsert(ctx, item); err != nil {
			return err
		}
	}

	p.pushTwin(ctx, item)
	return nil
}

func (p *Persister) relayToWriter(ctx context.Context, item telemetry.Item) error {
	endpoint, err := p.detector.Endpoint(boundary.ComputeToHot)
	if err != nil {
		return err
	}
	env, err := envelope.Encode(p.source, string(boundary.LayerHot), envelope.TypeTelemetry, item)
	if err != nil {
		return err
	}
	if _, err := p.client.Send(ctx, endpoint.URL, endpoint.Token, env); err != nil {
		return errors.Wrap(err, "processor", "relayToWriter", "relay item")
	}
	return nil
}

// pushTwin sends an additive twin update when the twin tier sits in a
// different cloud. At most one attempt per item, no dedupe.
func (p *Persister) pushTwin(ctx context.Context, item telemetry.Item) {
	remote, err := p.detector.IsRemote(boundary.ComputeToTwin)
	if err != nil {
		p.logger.Warn("twin push skipped",
			"boundary", boundary.ComputeToTwin,
			"device", item.DeviceID,
			"error", err)
		return
	}
	if !remote {
		return
	}

	endpoint, err := p.detector.Endpoint(boundary.ComputeToTwin)
	if err != nil {
		p.logger.Warn("twin push skipped",
			"boundary", boundary.ComputeToTwin,
			"device", item.DeviceID,
			"error", err)
		return
	}

	env, err := envelope.Encode(p.source, string(boundary.LayerTwin), envelope.TypeTelemetry, item)
	if err != nil {
		p.logger.Warn("twin push skipped",
			"boundary", boundary.ComputeToTwin,
			"device", item.DeviceID,
			"error", err)
		return
	}

	if _, err := p.client.Send(ctx, endpoint.URL, endpoint.Token, env); err != nil {
		p.logger.Warn("twin push failed",
			"boundary", boundary.ComputeToTwin,
			"device", item.DeviceID,
			"timestamp", item.Timestamp,
			"error", err)
	}
}
