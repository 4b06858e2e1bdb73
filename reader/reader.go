// Package reader serves the hot-read path toward twin management. A
// query arrives either over HTTP from a remote twin tier, with the
// boundary token validated, or through the direct Query call when twin
// management runs in the same cloud. The result shape is identical on
// both paths.
package reader

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/pkg/timestamp"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

// Reader answers hot-tier queries.
type Reader struct {
	hot    store.HotStore
	logger *slog.Logger
}

// New creates a reader over the hot store.
func New(hot store.HotStore, logger *slog.Logger) (*Reader, error) {
	if hot == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "reader", "New", "hot store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{hot: hot, logger: logger}, nil
}

// Query is the trusted direct-invoke path: no token, no envelope. Twin
// management in the same cloud calls this in process.
func (r *Reader) Query(ctx context.Context, q telemetry.Query) (telemetry.Result, error) {
	if err := q.Validate(); err != nil {
		return telemetry.Result{}, err
	}

	if q.LatestOnly {
		item, err := r.hot.Latest(ctx, q.DeviceID)
		if err != nil {
			if stderrors.Is(err, errors.ErrKeyNotFound) {
				return telemetry.NewResult(q.DeviceID, nil, q.Properties), nil
			}
			return telemetry.Result{}, err
		}
		return telemetry.NewResult(q.DeviceID, []telemetry.Item{item}, q.Properties), nil
	}

	startMs, err := timestamp.ParseString(q.StartTime)
	if err != nil {
		return telemetry.Result{}, errors.WrapInvalid(err, "reader", "Query", "startTime")
	}
	endMs, err := timestamp.ParseString(q.EndTime)
	if err != nil {
		return telemetry.Result{}, errors.WrapInvalid(err, "reader", "Query", "endTime")
	}

	items, err := r.hot.QueryRange(ctx, q.DeviceID, startMs, endMs)
	if err != nil {
		return telemetry.Result{}, err
	}
	return telemetry.NewResult(q.DeviceID, items, q.Properties), nil
}

// HTTPHandler mounts the reader behind the shared relay endpoint for
// remote twin tiers.
func (r *Reader) HTTPHandler(token string) http.HandlerFunc {
	return relay.Endpoint("reader", token, relay.DefaultMaxBodyBytes, r.logger, r.handle)
}

func (r *Reader) handle(req *http.Request, env *envelope.Envelope) (any, error) {
	if env.MessageType != envelope.TypeQuery {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "reader", "handle", "message type must be query")
	}

	var q telemetry.Query
	if err := env.DecodePayload(&q); err != nil {
		return nil, err
	}

	result, err := r.Query(req.Context(), q)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("hot read served",
		"device", q.DeviceID,
		"values", len(result.Values),
		"traceId", env.TraceID)
	return result, nil
}
