// Package peer fetches the metadata of a remote replica over its HTTP API.
package peer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/version/manager"
	"asisaid.cn/versync/internal/version/model"
)

// Client reads the index and records of a peer. It can be merged against
// like a local store.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the peer serving at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient returns a client that sends its requests through hc.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	return &Client{baseURL: c.baseURL, httpClient: hc}
}

// BaseURL returns the peer address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetIndex fetches the peer's index.
func (c *Client) GetIndex(ctx context.Context) (*model.Index, error) {
	data, err := c.get(ctx, "/api/v1/index")
	if err != nil {
		return nil, err
	}
	return model.DecodeIndex(data)
}

// GetObject fetches the peer's record stored under hash.
func (c *Client) GetObject(ctx context.Context, hash string) (*model.PathObject, error) {
	data, err := c.get(ctx, "/api/v1/objects/"+url.PathEscape(hash))
	if err != nil {
		return nil, err
	}
	return model.DecodePathObject(data)
}

// Health reports whether the peer answers its health check.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/api/v1/health")
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	op := "peer.Client.get"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.E(op, errors.ErrInvalidInput, err, c.baseURL)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.E(op, errors.ErrStorage, err, c.baseURL+path)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(op, errors.ErrStorage, err, c.baseURL+path)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.E(op, errors.ErrNotFound, nil, c.baseURL+path)
	case resp.StatusCode >= 400:
		return nil, errors.E(op, errors.ErrStorage,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), c.baseURL+path)
	}
	return body, nil
}

var _ manager.Source = (*Client)(nil)
