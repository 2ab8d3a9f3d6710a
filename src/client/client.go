// Package client is the Go SDK for a RelayDB query server. A Client is an
// explicitly constructed, passed-in instance with a lifecycle owned by the
// caller; there is no package-level singleton.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"relaydb/src/engine"
)

const defaultTimeout = 15 * time.Second

// Client executes query specifications and stores records against a remote
// RelayDB server over JSON/HTTP. It satisfies the same backend contract as
// the in-process query engine.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("server base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server base URL %s: %w", baseURL, err)
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Query starts a fluent query builder. The assembled specification is sent
// with Execute.
func (c *Client) Query() *engine.QueryBuilder {
	return engine.NewQuery()
}

// Execute sends a query specification and returns the resolved records.
// Malformed specifications fail client-side or come back as a QueryError;
// connectivity failures surface as TransportError and may be retried with
// backoff by the caller.
func (c *Client) Execute(ctx context.Context, spec engine.QuerySpec) (*engine.ResultSet, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/query", spec, "execute")
	if err != nil {
		return nil, err
	}

	var result engine.ResultSet
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, engine.NewTransportError("execute", fmt.Errorf("unreadable result set: %w", err))
	}
	if result.Records == nil {
		result.Records = []engine.Record{}
	}
	return &result, nil
}

// Store appends a single record to a collection and returns the stored
// record, primary key assigned if it was missing.
func (c *Client) Store(ctx context.Context, collection string, record engine.Record) (engine.Record, error) {
	if collection == "" {
		return nil, engine.NewQueryError(engine.ErrMalformedSpec, "collection name must not be empty")
	}

	path := "/collections/" + url.PathEscape(collection) + "/documents"
	body, err := c.post(ctx, path, record, "store")
	if err != nil {
		return nil, err
	}

	var stored engine.Record
	if err := json.Unmarshal(body, &stored); err != nil {
		return nil, engine.NewTransportError("store", fmt.Errorf("unreadable stored record: %w", err))
	}
	return stored, nil
}

// Health probes the server.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return engine.NewTransportError("health", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return engine.NewTransportError("health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.NewTransportError("health", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// post sends a JSON payload and returns the raw success body. Error bodies
// are decoded back into the typed taxonomy.
func (c *Client) post(ctx context.Context, path string, payload interface{}, op string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, engine.NewTransportError(op, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, engine.NewTransportError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, engine.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewTransportError(op, fmt.Errorf("failed to read response: %w", err))
	}

	if c.logger != nil {
		c.logger.Debugw("Request completed",
			"op", op,
			"path", path,
			"status", resp.StatusCode,
			"duration", time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(op, resp.StatusCode, body)
	}
	return body, nil
}

// decodeError reconstructs the typed error from the wire envelope, falling
// back to a TransportError for bodies the server never shaped.
func decodeError(op string, status int, body []byte) error {
	var envelope engine.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Kind != "" {
		return envelope.Error.ToError()
	}
	return engine.NewTransportError(op, fmt.Errorf("server returned status %d", status))
}
