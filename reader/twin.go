package reader

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/telemetry"
)

// TwinReceiver terminates additive twin pushes on the twin tier. It
// keeps the newest item per device in memory for dashboards and
// broadcasts every update to the live feed. Twin state is additive and
// best-effort; losing it never loses telemetry, which lives in the
// storage tiers.
type TwinReceiver struct {
	feed   *Feed
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[string]telemetry.Item
}

// NewTwinReceiver creates a receiver. The feed is optional.
func NewTwinReceiver(feed *Feed, logger *slog.Logger) *TwinReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwinReceiver{
		feed:   feed,
		logger: logger,
		latest: make(map[string]telemetry.Item),
	}
}

// HTTPHandler mounts the receiver behind the shared relay endpoint.
func (t *TwinReceiver) HTTPHandler(token string) http.HandlerFunc {
	return relay.Endpoint("twin", token, relay.DefaultMaxBodyBytes, t.logger, t.handle)
}

func (t *TwinReceiver) handle(_ *http.Request, env *envelope.Envelope) (any, error) {
	var item telemetry.Item
	if err := env.DecodePayload(&item); err != nil {
		return nil, err
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	t.Apply(item)
	return map[string]string{"status": "applied", "deviceId": item.DeviceID}, nil
}

// Apply merges one update into the twin state. Older updates never
// overwrite newer ones; RFC3339 strings compare in time order.
func (t *TwinReceiver) Apply(item telemetry.Item) {
	t.mu.Lock()
	current, ok := t.latest[item.DeviceID]
	if ok && current.Timestamp > item.Timestamp {
		t.mu.Unlock()
		return
	}
	t.latest[item.DeviceID] = item
	t.mu.Unlock()

	if t.feed != nil {
		t.feed.Broadcast(item)
	}
}

// Latest returns the newest known state for a device.
func (t *TwinReceiver) Latest(deviceID string) (telemetry.Item, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.latest[deviceID]
	if !ok {
		return telemetry.Item{}, errors.Wrap(errors.ErrKeyNotFound, "twin", "Latest", deviceID)
	}
	return item, nil
}
