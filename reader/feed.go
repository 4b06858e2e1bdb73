package reader

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/c360/cloudrelay/telemetry"
)

const feedSendBuffer = 16

// Feed is a websocket hub broadcasting twin updates to dashboard
// subscribers. Slow subscribers are disconnected rather than allowed to
// back-pressure the write path.
type Feed struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeed creates an empty hub.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// HTTPHandler upgrades a request to a websocket subscription.
func (f *Feed) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			f.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		sub := &subscriber{conn: conn, send: make(chan []byte, feedSendBuffer)}
		f.add(sub)

		go f.writeLoop(sub)
		go f.readLoop(sub)
	}
}

// Broadcast fans one twin update out to every subscriber.
func (f *Feed) Broadcast(item telemetry.Item) {
	data, err := json.Marshal(item)
	if err != nil {
		f.logger.Warn("feed broadcast dropped", "device", item.DeviceID, "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.send <- data:
		default:
			// Subscriber can't keep up; drop it.
			delete(f.subs, sub)
			close(sub.send)
		}
	}
}

// Subscribers returns the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close disconnects all subscribers.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.send)
	}
}

func (f *Feed) add(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub] = struct{}{}
}

func (f *Feed) remove(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; ok {
		delete(f.subs, sub)
		close(sub.send)
	}
}

// writeLoop drains the send channel onto the connection. Channel close
// shuts the connection down.
func (f *Feed) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for data := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			f.remove(sub)
			return
		}
	}
}

// readLoop discards inbound frames and detects disconnects.
func (f *Feed) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			f.remove(sub)
			return
		}
	}
}
