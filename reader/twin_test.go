package reader

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/telemetry"
)

func twinItem(ts string, temp float64) telemetry.Item {
	return telemetry.Item{DeviceID: "sensor-1", Timestamp: ts, Properties: map[string]any{"temp": temp}}
}

func TestTwinReceiver_AppliesNewestWins(t *testing.T) {
	tr := NewTwinReceiver(nil, nil)

	tr.Apply(twinItem("2026-01-01T00:05:00Z", 21))
	tr.Apply(twinItem("2026-01-01T00:00:00Z", 20)) // older, ignored

	got, err := tr.Latest("sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:05:00Z", got.Timestamp)

	_, err = tr.Latest("ghost")
	assert.Error(t, err)
}

func TestTwinReceiver_HTTPAppliesUpdate(t *testing.T) {
	tr := NewTwinReceiver(nil, nil)

	srv := httptest.NewServer(tr.HTTPHandler("secret"))
	defer srv.Close()

	env, err := envelope.Encode(envelope.ProviderAWS, "l4", envelope.TypeTelemetry, twinItem("2026-01-01T00:00:00Z", 20))
	require.NoError(t, err)

	client := relay.NewClient(relay.ClientConfig{}, nil, nil)
	resp, err := client.Send(context.Background(), srv.URL, "secret", env)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	got, err := tr.Latest("sensor-1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Properties["temp"])
}

func TestFeed_BroadcastReachesSubscriber(t *testing.T) {
	feed := NewFeed(nil)
	defer feed.Close()

	srv := httptest.NewServer(feed.HTTPHandler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the hub to register the subscriber.
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	feed.Broadcast(twinItem("2026-01-01T00:00:00Z", 20))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got telemetry.Item
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "sensor-1", got.DeviceID)
}

func TestTwinReceiver_UpdateBroadcastsToFeed(t *testing.T) {
	feed := NewFeed(nil)
	defer feed.Close()
	tr := NewTwinReceiver(feed, nil)

	srv := httptest.NewServer(feed.HTTPHandler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	tr.Apply(twinItem("2026-01-01T00:00:00Z", 20))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "sensor-1")
}
