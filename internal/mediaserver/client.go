/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediaserver queries the status API of the media server (MediaMTX or
// compatible) that carries the master feed.
package mediaserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client is a thin status API client. All calls are bounded by the client
// timeout so a wedged media server cannot stall the playout tick.
type Client struct {
	apiURL string
	http   *http.Client
}

// New creates a client for the status API at apiURL (e.g. http://mediamtx:9997).
func New(apiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Client{
		apiURL: apiURL,
		http:   &http.Client{Timeout: timeout},
	}
}

// PathStatus is the subset of the path state the engine cares about.
type PathStatus struct {
	Name    string `json:"name"`
	Ready   bool   `json:"ready"`
	Readers []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"readers"`
}

// Path fetches the status of a single path.
func (c *Client) Path(ctx context.Context, name string) (*PathStatus, error) {
	endpoint := fmt.Sprintf("%s/v3/paths/get/%s", c.apiURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build path status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query path status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("path status %s: http %d", name, resp.StatusCode)
	}

	var status PathStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode path status: %w", err)
	}
	return &status, nil
}

// PathReady reports whether the path carries a live feed. Any API failure
// degrades to "not ready"; the caller applies its own grace window.
func (c *Client) PathReady(ctx context.Context, name string) bool {
	status, err := c.Path(ctx, name)
	if err != nil {
		return false
	}
	return status.Ready
}

// PathReaders returns the number of connected readers on the path.
func (c *Client) PathReaders(ctx context.Context, name string) (int, error) {
	status, err := c.Path(ctx, name)
	if err != nil {
		return 0, err
	}
	return len(status.Readers), nil
}
