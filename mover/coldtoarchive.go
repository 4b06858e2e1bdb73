package mover

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/metric"
	"github.com/c360/cloudrelay/pkg/timestamp"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/writer"
)

const (
	// defaultMaxObjectBytes is the in-memory safety ceiling for a single
	// cold object. Anything larger is skipped with a warning instead of
	// being buffered.
	defaultMaxObjectBytes = 32 * 1024 * 1024

	// defaultPartBytes keeps a base64-encoded part plus its envelope
	// inside the receiving side's body limit.
	defaultPartBytes = 3 * 1024 * 1024
)

// ColdToArchiveConfig configures the cold to archive mover.
type ColdToArchiveConfig struct {
	Source         envelope.Provider
	Detector       *boundary.Detector
	Cold           store.ObjectStore
	Archive        store.ObjectStore // local archive store, nil when always remote
	Client         *relay.Client
	Retention      time.Duration // cold-tier retention window
	Interval       time.Duration // tick interval
	MaxObjectBytes int64
	PartBytes      int
	Clock          clock.Clock
	Metrics        *metric.Metrics
	Logger         *slog.Logger
}

// ColdToArchive moves cold objects past retention into the archive.
type ColdToArchive struct {
	cfg    ColdToArchiveConfig
	logger *slog.Logger
}

// NewColdToArchive creates the mover.
func NewColdToArchive(cfg ColdToArchiveConfig) (*ColdToArchive, error) {
	if !cfg.Source.Valid() {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "mover", "NewColdToArchive", "source provider")
	}
	if cfg.Detector == nil || cfg.Cold == nil || cfg.Client == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "mover", "NewColdToArchive", "detector, cold store, and relay client")
	}
	if cfg.Retention <= 0 || cfg.Interval <= 0 {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "mover", "NewColdToArchive", "retention and interval must be positive")
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = defaultMaxObjectBytes
	}
	if cfg.PartBytes <= 0 {
		cfg.PartBytes = defaultPartBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ColdToArchive{cfg: cfg, logger: cfg.Logger}, nil
}

// Run ticks until the context is canceled.
func (m *ColdToArchive) Run(ctx context.Context) error {
	ticker := m.cfg.Clock.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.recordRun("error")
				m.logger.Error("cold to archive run failed",
					"boundary", boundary.ColdToArchive,
					"error", err)
				continue
			}
			m.recordRun("ok")
		}
	}
}

// Tick performs one pass over the cold listing with a cutoff computed
// from the current clock reading.
func (m *ColdToArchive) Tick(ctx context.Context) error {
	cutoffMs := timestamp.ToUnixMs(m.cfg.Clock.Now().Add(-m.cfg.Retention))

	remote, err := m.cfg.Detector.IsRemote(boundary.ColdToArchive)
	if err != nil {
		return err
	}
	if !remote && m.cfg.Archive == nil {
		return errors.WrapConfig(errors.ErrMissingConfig, "mover", "Tick", "local archive store")
	}

	objects, err := m.cfg.Cold.List(ctx, "")
	if err != nil {
		return err
	}

	moved := 0
	for _, obj := range objects {
		if obj.ModifiedMs >= cutoffMs {
			continue
		}
		if obj.Size > m.cfg.MaxObjectBytes {
			m.logger.Warn("cold object exceeds archive transfer ceiling, skipping",
				"boundary", boundary.ColdToArchive,
				"key", obj.Key,
				"bytes", obj.Size,
				"ceiling", m.cfg.MaxObjectBytes)
			continue
		}

		if err := m.moveObject(ctx, obj, remote); err != nil {
			return err
		}
		moved++
	}

	if moved > 0 {
		m.logger.Info("cold to archive pass complete",
			"boundary", boundary.ColdToArchive,
			"objects", moved,
			"cutoff", timestamp.Format(cutoffMs))
	}
	return nil
}

// moveObject transfers one object and deletes the cold copy only after
// the archive write is confirmed.
func (m *ColdToArchive) moveObject(ctx context.Context, obj store.Object, remote bool) error {
	if remote {
		if err := m.relayObject(ctx, obj.Key); err != nil {
			return err
		}
	} else {
		if err := store.Copy(ctx, m.cfg.Cold, m.cfg.Archive, obj.Key); err != nil {
			return err
		}
	}

	if err := m.cfg.Cold.Delete(ctx, obj.Key); err != nil {
		return errors.Wrap(err, "mover", "moveObject", "delete archived object")
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ChunksWritten.WithLabelValues(string(boundary.ColdToArchive)).Inc()
	}
	return nil
}

// relayObject streams one object to the remote archive writer as
// multipart parts. Every part must be confirmed before the cold copy is
// eligible for deletion.
func (m *ColdToArchive) relayObject(ctx context.Context, key string) error {
	endpoint, err := m.cfg.Detector.Endpoint(boundary.ColdToArchive)
	if err != nil {
		return err
	}

	data, err := m.cfg.Cold.Get(ctx, key)
	if err != nil {
		return err
	}

	count := (len(data) + m.cfg.PartBytes - 1) / m.cfg.PartBytes
	if count == 0 {
		count = 1
	}

	for i := range count {
		start := i * m.cfg.PartBytes
		end := min(start+m.cfg.PartBytes, len(data))

		part := writer.Part{
			ObjectKey: key,
			PartIndex: i,
			PartCount: count,
			Data:      data[start:end],
		}
		env, err := envelope.Encode(m.cfg.Source, string(boundary.LayerArchive), envelope.TypeTelemetry, part)
		if err != nil {
			return err
		}
		if _, err := m.cfg.Client.Send(ctx, endpoint.URL, endpoint.Token, env); err != nil {
			return errors.Wrap(err, "mover", "relayObject", "relay archive part")
		}
	}
	return nil
}

func (m *ColdToArchive) recordRun(status string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.MoverRuns.WithLabelValues(string(boundary.ColdToArchive), status).Inc()
	}
}
