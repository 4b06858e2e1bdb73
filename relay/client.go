// Package relay implements one boundary's cross-cloud call: the outbound
// HTTP client with the shared-secret protocol and bounded retry, and the
// inbound server plumbing every relay endpoint shares.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/pkg/retry"
)

// TokenHeader carries the shared secret on every relay call. Every
// receiving function understands this header identically regardless of
// cloud vendor.
const TokenHeader = "X-Inter-Cloud-Token"

const (
	// defaultTimeout is the hard per-attempt ceiling.
	defaultTimeout = 30 * time.Second
	// maxRetries bounds retries after the initial attempt.
	maxRetries = 3
	// maxResponseBytes caps how much of a response body is read back.
	maxResponseBytes = 10 * 1024 * 1024
)

// Response is the receiver-specific JSON body of a successful relay call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Observer receives relay client telemetry. Implemented by the metric
// package; a nil observer disables recording.
type Observer interface {
	RelaySent(target string, status int, elapsed time.Duration)
	RelayRetried(target string)
}

// ClientConfig configures a relay client.
type ClientConfig struct {
	Timeout time.Duration // per-attempt bound, default 30s
	Retry   retry.Config  // backoff policy, defaulted when zero
}

// Client performs outbound relay calls. Safe for concurrent use; calls are
// synchronous from the caller's perspective and retries happen inline
// within a single invocation.
type Client struct {
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *slog.Logger
	observer   Observer

	sent    atomic.Int64
	retried atomic.Int64
	failed  atomic.Int64
}

// NewClient creates a relay client.
func NewClient(cfg ClientConfig, logger *slog.Logger, observer Observer) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.Config{
			MaxAttempts:  maxRetries + 1, // initial attempt plus bounded retries
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		}
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
		logger:     logger,
		observer:   observer,
	}
}

// Send POSTs an envelope to a remote relay endpoint. A missing URL or
// token is a configuration error raised before any network call. Network
// errors, timeouts, and 5xx responses are retried with exponential
// backoff; any 4xx fails immediately.
func (c *Client) Send(ctx context.Context, targetURL, token string, env *envelope.Envelope) (*Response, error) {
	if targetURL == "" {
		return nil, errors.WrapConfig(errors.ErrMissingURL, "RelayClient", "Send", "validate target")
	}
	if token == "" {
		return nil, errors.WrapConfig(errors.ErrMissingToken, "RelayClient", "Send", "validate target")
	}
	if _, err := url.Parse(targetURL); err != nil {
		return nil, errors.WrapConfig(err, "RelayClient", "Send", "parse target URL")
	}

	body, err := env.Bytes()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	attempt := 0
	resp, err := retry.DoWithResult(ctx, c.retryCfg, func() (*Response, error) {
		attempt++
		if attempt > 1 {
			c.retried.Add(1)
			if c.observer != nil {
				c.observer.RelayRetried(targetURL)
			}
		}
		return c.post(ctx, targetURL, token, env, body)
	})
	if err != nil {
		c.failed.Add(1)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if c.observer != nil {
			c.observer.RelaySent(targetURL, status, time.Since(start))
		}
		c.logger.Error("relay call failed",
			"target", env.TargetLayer,
			"url", targetURL,
			"trace_id", env.TraceID,
			"attempts", attempt,
			"error", err)
		if retry.IsNonRetryable(err) {
			return resp, err
		}
		return resp, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrMaxRetriesExceeded, err),
			"RelayClient", "Send", env.TargetLayer)
	}

	c.sent.Add(1)
	if c.observer != nil {
		c.observer.RelaySent(targetURL, resp.StatusCode, time.Since(start))
	}
	return resp, nil
}

// post performs one attempt.
func (c *Client) post(ctx context.Context, targetURL, token string, env *envelope.Envelope, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, retry.NonRetryable(errors.WrapInvalid(err, "RelayClient", "post", "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, token)
	if env.TraceID != "" {
		req.Header.Set("X-Request-ID", env.TraceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection errors and client timeouts are transient.
		return nil, errors.WrapTransient(err, "RelayClient", "post", "http post")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.WrapTransient(err, "RelayClient", "post", "read response")
	}

	out := &Response{StatusCode: resp.StatusCode, Body: respBody}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return out, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return out, retry.NonRetryable(errors.WrapAuth(
			fmt.Errorf("HTTP %d: %w", resp.StatusCode, errors.ErrTokenMismatch),
			"RelayClient", "post", "remote rejected token"))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Client errors are not transient; retrying cannot help.
		return out, retry.NonRetryable(errors.WrapInvalid(
			fmt.Errorf("HTTP %d", resp.StatusCode),
			"RelayClient", "post", "remote rejected payload"))
	default:
		return out, errors.WrapTransient(
			fmt.Errorf("HTTP %d: %w", resp.StatusCode, errors.ErrRelayFailed),
			"RelayClient", "post", "remote failure")
	}
}

// Stats returns cumulative client counters: sent, retried, failed.
func (c *Client) Stats() (sent, retried, failed int64) {
	return c.sent.Load(), c.retried.Load(), c.failed.Load()
}
