package master

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client reads the listing of a master server.
type Client struct {
	BaseURL string
	// Version, when set, hides servers running another version.
	Version string
	HTTP    *http.Client
}

func NewClient(baseURL, version string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Version: version,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// List fetches the servers in listing order.
func (c *Client) List(ctx context.Context) ([]ServerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/servers", nil)
	if err != nil {
		return nil, fmt.Errorf("master: request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("master: get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("master: unexpected status: %d", resp.StatusCode)
	}
	var servers []ServerInfo
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("master: decode: %w", err)
	}
	return servers, nil
}

// Addresses lists the addresses of compatible servers with a free slot.
func (c *Client) Addresses(ctx context.Context) ([]string, error) {
	servers, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range servers {
		if s.Full() || (c.Version != "" && s.Version != c.Version) {
			continue
		}
		out = append(out, s.Address)
	}
	return out, nil
}
