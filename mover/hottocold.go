// Package mover implements the scheduled tier-lifecycle movers. Data
// moves strictly forward, hot to cold to archive, and source data is
// deleted only after the write to the target tier is confirmed, one
// chunk at a time. A failure mid-run leaves everything not yet
// confirmed exactly where it was.
package mover

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/chunk"
	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/metric"
	"github.com/c360/cloudrelay/pkg/timestamp"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

const defaultPageSize = 1000

// HotToColdConfig configures the hot to cold mover.
type HotToColdConfig struct {
	Source    envelope.Provider
	Detector  *boundary.Detector
	Hot       store.HotStore
	Cold      store.ObjectStore // local cold store, nil when always remote
	Client    *relay.Client
	Retention time.Duration // hot-tier retention window
	Interval  time.Duration // tick interval
	PageSize  int
	Clock     clock.Clock
	Metrics   *metric.Metrics
	Logger    *slog.Logger
}

// HotToCold drains expired items from the hot tier into cold chunks.
type HotToCold struct {
	cfg     HotToColdConfig
	builder *chunk.Builder
	logger  *slog.Logger
}

// NewHotToCold creates the mover.
func NewHotToCold(cfg HotToColdConfig) (*HotToCold, error) {
	if !cfg.Source.Valid() {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "mover", "NewHotToCold", "source provider")
	}
	if cfg.Detector == nil || cfg.Hot == nil || cfg.Client == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "mover", "NewHotToCold", "detector, hot store, and relay client")
	}
	if cfg.Retention <= 0 || cfg.Interval <= 0 {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "mover", "NewHotToCold", "retention and interval must be positive")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &HotToCold{cfg: cfg, logger: cfg.Logger}
	var opts []chunk.Option
	if cfg.Metrics != nil {
		opts = append(opts, chunk.WithOversizedHook(func(item telemetry.Item) {
			cfg.Metrics.OversizedItems.Inc()
		}))
	}
	m.builder = chunk.NewBuilder(cfg.Logger, opts...)
	return m, nil
}

// Run ticks until the context is canceled.
func (m *HotToCold) Run(ctx context.Context) error {
	ticker := m.cfg.Clock.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.recordRun("error")
				m.logger.Error("hot to cold run failed",
					"boundary", boundary.HotToCold,
					"error", err)
				continue
			}
			m.recordRun("ok")
		}
	}
}

// Tick performs one pass. The cutoff is computed here, inside the tick,
// so a long-lived process never works from a stale clock reading.
func (m *HotToCold) Tick(ctx context.Context) error {
	cutoffMs := timestamp.ToUnixMs(m.cfg.Clock.Now().Add(-m.cfg.Retention))

	remote, err := m.cfg.Detector.IsRemote(boundary.HotToCold)
	if err != nil {
		return err
	}
	if !remote && m.cfg.Cold == nil {
		return errors.WrapConfig(errors.ErrMissingConfig, "mover", "Tick", "local cold store")
	}

	moved := 0
	pageToken := ""
	for {
		page, err := m.cfg.Hot.ListOlderThan(ctx, cutoffMs, pageToken, m.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			break
		}

		items := page.Items
		sort.Slice(items, func(i, j int) bool {
			if items[i].DeviceID != items[j].DeviceID {
				return items[i].DeviceID < items[j].DeviceID
			}
			return items[i].Timestamp < items[j].Timestamp
		})

		movedThisPage := 0
		for _, ch := range m.builder.Build(items) {
			if ch.Oversized() {
				// A lone item above the chunk ceiling cannot cross the
				// relay body cap. It stays in the hot tier for operator
				// attention; the rest of the pass continues.
				m.logger.Warn("leaving oversized chunk in hot tier",
					"boundary", boundary.HotToCold,
					"device", ch.DeviceID,
					"timestamp", ch.TimeRangeStart,
					"size_bytes", ch.SizeBytes)
				continue
			}
			if err := m.moveChunk(ctx, ch, remote); err != nil {
				return err
			}
			movedThisPage += len(ch.Items)
		}
		moved += movedThisPage

		// Deletes shift scan offsets, so after a page that moved anything
		// the listing restarts from the top. A page that moved nothing
		// holds only oversized leftovers; re-listing it would spin
		// forever, so paging advances past it instead.
		if movedThisPage > 0 {
			pageToken = ""
			continue
		}
		pageToken = page.NextToken
		if pageToken == "" {
			break
		}
	}

	if moved > 0 {
		m.logger.Info("hot to cold pass complete",
			"boundary", boundary.HotToCold,
			"items", moved,
			"cutoff", timestamp.Format(cutoffMs))
	}
	return nil
}

// moveChunk writes one chunk to the cold tier, then deletes exactly the
// chunk's items from the hot tier. An unconfirmed write leaves the
// items in place for the next tick.
func (m *HotToCold) moveChunk(ctx context.Context, ch chunk.Chunk, remote bool) error {
	if remote {
		endpoint, err := m.cfg.Detector.Endpoint(boundary.HotToCold)
		if err != nil {
			return err
		}
		env, err := envelope.Encode(m.cfg.Source, string(boundary.LayerCold), envelope.TypeTelemetry, ch)
		if err != nil {
			return err
		}
		if _, err := m.cfg.Client.Send(ctx, endpoint.URL, endpoint.Token, env); err != nil {
			return errors.Wrap(err, "mover", "moveChunk", "relay chunk")
		}
	} else {
		data, err := json.Marshal(ch)
		if err != nil {
			return errors.WrapInvalid(err, "mover", "moveChunk", "marshal chunk")
		}
		if err := m.cfg.Cold.Put(ctx, ch.ObjectKey(), data); err != nil {
			return err
		}
	}

	keys := make([]store.ItemKey, 0, len(ch.Items))
	for _, item := range ch.Items {
		keys = append(keys, store.KeyOf(item))
	}
	if err := m.cfg.Hot.DeleteBatch(ctx, keys); err != nil {
		return errors.Wrap(err, "mover", "moveChunk", "delete moved items")
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ChunksWritten.WithLabelValues(string(boundary.HotToCold)).Inc()
		m.cfg.Metrics.ItemsMoved.WithLabelValues(string(boundary.HotToCold)).Add(float64(len(ch.Items)))
	}
	return nil
}

func (m *HotToCold) recordRun(status string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.MoverRuns.WithLabelValues(string(boundary.HotToCold), status).Inc()
	}
}
