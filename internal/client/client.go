// Package client talks to a running tryouts server for the operator CLI.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the public and health endpoints of a tryouts server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL with a 5-second timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Health checks GET /admin/health. Returns (ok, response body or error message).
func (c *Client) Health(ctx context.Context) (bool, string) {
	body, status, err := c.get(ctx, "/admin/health")
	if err != nil {
		return false, err.Error()
	}
	if status == http.StatusOK {
		return true, strings.TrimSpace(string(body))
	}
	return false, fmt.Sprintf("status %d: %s", status, body)
}

// Catalog is the public pricing the server advertises.
type Catalog struct {
	Name           string `json:"name"`
	Currency       string `json:"currency"`
	PricePerPlayer int64  `json:"pricePerPlayer"`
	Sessions       []struct {
		Label    string `json:"label"`
		Date     string `json:"date"`
		Location string `json:"location"`
	} `json:"sessions"`
}

// Catalog fetches GET /api/catalog.
func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	body, status, err := c.get(ctx, "/api/catalog")
	if err != nil {
		return Catalog{}, err
	}
	if status != http.StatusOK {
		return Catalog{}, fmt.Errorf("catalog returned status %d: %s", status, body)
	}
	var cat Catalog
	if err := json.Unmarshal(body, &cat); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return cat, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
