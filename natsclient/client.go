// Package natsclient wraps the NATS connection and JetStream handles used
// by the NATS-backed store adapters.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/cloudrelay/errors"
)

// Client manages a NATS connection and its JetStream context.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient creates a client for the given NATS URL. Connect must be
// called before any store operation.
func NewClient(url, name string, logger *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "natsclient", "NewClient", "NATS URL required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = "cloudrelay"
	}
	return &Client{url: url, name: name, logger: logger}, nil
}

// Connect establishes the NATS connection and JetStream context.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := nats.Connect(c.url,
		nats.Name(c.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(10*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Connect", "connect to "+c.url)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(err, "natsclient", "Connect", "create JetStream context")
	}

	if err := conn.FlushWithContext(ctx); err != nil {
		conn.Close()
		return errors.WrapTransient(err, "natsclient", "Connect", "flush after connect")
	}

	c.conn = conn
	c.js = js
	c.logger.Info("NATS connected", "url", c.url)
	return nil
}

// KeyValue creates or opens a JetStream KV bucket.
func (c *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	if c.js == nil {
		return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "natsclient", "KeyValue", "not connected")
	}
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("cloudrelay bucket %s", bucket),
		History:     1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "KeyValue", "open bucket "+bucket)
	}
	return kv, nil
}

// ObjectStore creates or opens a JetStream object-store bucket.
func (c *Client) ObjectStore(ctx context.Context, bucket string) (jetstream.ObjectStore, error) {
	if c.js == nil {
		return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "natsclient", "ObjectStore", "not connected")
	}
	os, err := c.js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("cloudrelay bucket %s", bucket),
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "ObjectStore", "open bucket "+bucket)
	}
	return os, nil
}

// Connected reports whether the underlying connection is up.
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("NATS drain failed", "error", err)
			c.conn.Close()
		}
		c.conn = nil
		c.js = nil
	}
}
