package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/kitchen-metal/metalctl/internal/logging"
)

// HTTPClient talks to a node registry over its REST API. GET {base}/nodes
// returns a JSON object mapping node names to node URLs; each node URL
// returns the node document.
type HTTPClient struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger
}

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// Token is sent as a bearer token when set.
	Token string
	// Client overrides the HTTP client; defaults to http.DefaultClient.
	Client *http.Client
	// Logger receives request-level debug logs.
	Logger *slog.Logger
}

// NewHTTPClient constructs a client for the registry rooted at baseURL.
func NewHTTPClient(baseURL string, opts HTTPOptions) (*HTTPClient, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("registry url is empty")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse registry url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("registry url %q: unsupported scheme %q", baseURL, base.Scheme)
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPClient{base: base, token: opts.Token, http: client, logger: logger}, nil
}

// ListNodes fetches the node index and every node document it references.
func (c *HTTPClient) ListNodes(ctx context.Context) (map[string]Record, error) {
	return c.SelectNodes(ctx, func(string) bool { return true })
}

// SelectNodes fetches the node index and the documents of the nodes for which
// keep reports true. A node listed in the index whose document is gone is
// left out.
func (c *HTTPClient) SelectNodes(ctx context.Context, keep func(name string) bool) (map[string]Record, error) {
	var index map[string]string
	if err := c.getJSON(ctx, "nodes", &index); err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("node index: %v: %w", err, ErrUnavailable)
		}
		return nil, err
	}

	names := make([]string, 0, len(index))
	for name := range index {
		if keep(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make(map[string]Record, len(names))
	for _, name := range names {
		ref := index[name]
		if strings.TrimSpace(ref) == "" {
			ref = "nodes/" + url.PathEscape(name)
		}
		var doc map[string]any
		err := c.getJSON(ctx, ref, &doc)
		switch {
		case IsNotFound(err):
			c.logger.Debug("registry node document missing", "node", name)
			continue
		case err != nil:
			return nil, fmt.Errorf("fetch node %q: %w", name, err)
		}
		out[name] = Record{Name: name, Document: doc}
	}
	c.logger.Debug("registry nodes listed", "registry", c.base.String(), "index", len(index), "fetched", len(out))
	return out, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, ref string, target any) error {
	rel, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("parse registry reference %q: %w", ref, ErrMalformedRecord)
	}
	endpoint := c.base.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %v: %w", endpoint, err, ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %v: %w", endpoint, err, ErrUnavailable)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: status %d: %w", endpoint, resp.StatusCode, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("GET %s: status %d: %s: %w", endpoint, resp.StatusCode, strings.TrimSpace(string(body)), ErrUnavailable)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode %s: %v: %w", endpoint, err, ErrMalformedRecord)
	}
	return nil
}
