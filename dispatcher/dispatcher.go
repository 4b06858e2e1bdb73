// Package dispatcher routes raw device events off the ingestion tier.
// Each device owns a pair of routes named after its digital twin; which
// one an event takes depends on whether the compute tier lives in the
// same cloud.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360/cloudrelay/boundary"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/telemetry"
)

// Route name suffixes. Processor handles events locally; connector
// relays them across the cloud boundary.
const (
	SuffixProcessor = "-processor"
	SuffixConnector = "-connector"
)

// Handler consumes a dispatched event.
type Handler interface {
	Handle(ctx context.Context, item telemetry.Item) error
}

// Dispatcher decides per event whether the compute tier is local or
// remote and hands the event to the matching handler.
type Dispatcher struct {
	twinPrefix string
	detector   *boundary.Detector
	processor  Handler
	connector  Handler
	logger     *slog.Logger
}

// New creates a dispatcher. Both handlers are required even when the
// deployment only exercises one of them, so a configuration mistake
// surfaces at startup rather than on the first mis-routed event.
func New(twinPrefix string, detector *boundary.Detector, processor, connector Handler, logger *slog.Logger) (*Dispatcher, error) {
	if twinPrefix == "" {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "dispatcher", "New", "twin prefix")
	}
	if detector == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "dispatcher", "New", "boundary detector")
	}
	if processor == nil || connector == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "dispatcher", "New", "event handlers")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		twinPrefix: twinPrefix,
		detector:   detector,
		processor:  processor,
		connector:  connector,
		logger:     logger,
	}, nil
}

// Route returns the route name for a device. The boundary decision is
// made fresh on every call so a config reload is picked up immediately.
func (d *Dispatcher) Route(deviceID string) (string, error) {
	remote, err := d.detector.IsRemote(boundary.IngestToCompute)
	if err != nil {
		return "", err
	}
	return d.routeName(deviceID, remote), nil
}

func (d *Dispatcher) routeName(deviceID string, remote bool) string {
	suffix := SuffixProcessor
	if remote {
		suffix = SuffixConnector
	}
	return fmt.Sprintf("%s-%s%s", d.twinPrefix, deviceID, suffix)
}

// HTTPHandler is the device-facing ingress. It takes bare event JSON,
// not an envelope; authentication happens upstream in the cloud
// vendor's device gateway, so there is no token check here.
func (d *Dispatcher) HTTPHandler(maxBodyBytes int64) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = relay.DefaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			relay.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			relay.WriteError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if int64(len(body)) > maxBodyBytes {
			relay.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		route, err := d.Dispatch(r.Context(), body)
		if err != nil {
			status := relay.StatusFromError(err)
			d.logger.Error("dispatch failed",
				"request_id", relay.RequestID(r),
				"status", status,
				"error", err)
			relay.WriteError(w, status, "event rejected")
			return
		}
		relay.WriteJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"route":  route,
		})
	}
}

// Dispatch decodes a raw device event, validates it, and invokes the
// handler behind its route.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (string, error) {
	var item telemetry.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", errors.WrapInvalid(errors.ErrMalformedPayload, "dispatcher", "Dispatch", "decode event")
	}
	if err := item.Validate(); err != nil {
		return "", err
	}

	remote, err := d.detector.IsRemote(boundary.IngestToCompute)
	if err != nil {
		return "", err
	}
	route := d.routeName(item.DeviceID, remote)

	handler := d.processor
	if remote {
		handler = d.connector
	}

	d.logger.Debug("dispatching event",
		"device", item.DeviceID,
		"route", route,
		"remote", remote)

	if err := handler.Handle(ctx, item); err != nil {
		return route, err
	}
	return route, nil
}
