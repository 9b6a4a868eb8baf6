package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

// Client queries a running status server.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client for addr, e.g. 127.0.0.1:18888 or http://host:port.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{base: strings.TrimRight(addr, "/"), http: cleanhttp.DefaultClient()}
}

// Resources returns every resource snapshot.
func (c *Client) Resources(ctx context.Context) ([]resource.Snapshot, error) {
	var out []resource.Snapshot
	if err := c.get(ctx, "/resources", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Resource returns the snapshot of name.
func (c *Client) Resource(ctx context.Context, name string) (resource.Snapshot, error) {
	var out resource.Snapshot
	if err := c.get(ctx, "/resources/"+url.PathEscape(name), &out); err != nil {
		return resource.Snapshot{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach status server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("status server returned %d: %s", resp.StatusCode, body.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode status response: %w", err)
	}
	return nil
}
