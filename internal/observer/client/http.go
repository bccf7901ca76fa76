package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/epiphany-db/monitor/internal/inspect"
)

// HTTPClient queries the monitor's snapshot endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// HTTPBase converts ws://host:port/monitor to http://host:port.
func HTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}

func (c *HTTPClient) CacheEntries(ctx context.Context) ([]inspect.CacheEntry, error) {
	var out struct {
		Entries []inspect.CacheEntry `json:"entries"`
	}
	if err := c.get(ctx, "/api/cache", &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *HTTPClient) Page(ctx context.Context, id int) (inspect.Page, error) {
	var p inspect.Page
	err := c.get(ctx, fmt.Sprintf("/api/pages/%d", id), &p)
	return p, err
}

func (c *HTTPClient) BTree(ctx context.Context) (inspect.Tree, error) {
	var t inspect.Tree
	err := c.get(ctx, "/api/btree", &t)
	return t, err
}

// FetchCache returns a command producing a CacheMsg.
func (c *HTTPClient) FetchCache(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		entries, err := c.CacheEntries(ctx)
		return CacheMsg{Entries: entries, Err: err}
	}
}

// FetchTree returns a command producing a TreeMsg.
func (c *HTTPClient) FetchTree(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		tree, err := c.BTree(ctx)
		return TreeMsg{Tree: tree, Err: err}
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
