// Package remote is the HTTP client for the field sync server.
//
// The push protocol is deliberately dumb: the full collection snapshot is
// PUT under its key, replacing whatever the server held. There is no
// version, no idempotence token and no structured failure detail - the
// staging layer treats any error as "try again later, wholesale".
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/TeamMusiBat/village-tracker-pro-sub001/internal/staging"
)

// Client talks to one field sync server.
type Client struct {
	base   string
	http   *http.Client
	logger *log.Logger
}

// NewClient creates a client for the server at base, e.g.
// "http://sync.example.org:8080".
func NewClient(base string, logger *log.Logger) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("server url cannot be empty")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", base)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// HealthURL returns the health endpoint, for the connectivity probe.
func (c *Client) HealthURL() string {
	return c.base + "/health"
}

// PushCollection replaces the server's copy of the collection under key
// with the given full snapshot.
func (c *Client) PushCollection(ctx context.Context, key string, records any) error {
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("cannot encode collection %q: %w", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.collectionURL(key), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push to %q failed: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("server rejected push to %q: %s", key, resp.Status)
	}
	return nil
}

// FetchCollection reads the server's copy of the collection under key into
// the given slice pointer. A key the server has never seen yields an empty
// collection.
func (c *Client) FetchCollection(ctx context.Context, key string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.collectionURL(key), nil)
	if err != nil {
		return fmt.Errorf("cannot build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch of %q failed: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server rejected fetch of %q: %s", key, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("cannot decode collection %q: %w", key, err)
	}
	return nil
}

// Collection adapts the client into the staging layer's sync capability for
// one collection key.
func Collection[T any](c *Client, key string) staging.SyncFunc[T] {
	return func(ctx context.Context, records []T) error {
		return c.PushCollection(ctx, key, records)
	}
}

func (c *Client) collectionURL(key string) string {
	return c.base + "/api/collections/" + url.PathEscape(key)
}
