// Package rest reads catalog metadata from an Apache Iceberg REST catalog.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/icetop/pkg/catalog"
)

// namespaceSeparator joins multi-level namespaces in URL paths and the parent query parameter.
const namespaceSeparator = "\x1f"

// Config configures a Client. It mirrors the pyiceberg REST catalog properties.
type Config struct {
	URI        string
	Warehouse  string
	Prefix     string
	Token      string
	Credential string // "client_id:client_secret" for the OAuth2 client-credentials flow
	Scope      string
	HTTPClient *http.Client
}

// Client implements catalog.MetadataSource over the Iceberg REST API.
type Client struct {
	baseURL    string
	warehouse  string
	credential string
	scope      string
	http       *http.Client
	logger     zerolog.Logger

	mu         sync.Mutex
	prefix     string
	configured bool
	token      string
}

var _ catalog.MetadataSource = (*Client)(nil)

// NewClient validates cfg and returns a client. No request is made until first use.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("rest catalog: uri is required")
	}
	base := strings.TrimRight(cfg.URI, "/")
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest catalog: invalid uri %q", cfg.URI)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	scope := cfg.Scope
	if scope == "" {
		scope = "catalog"
	}

	return &Client{
		baseURL:    base,
		warehouse:  cfg.Warehouse,
		credential: cfg.Credential,
		scope:      scope,
		http:       httpClient,
		prefix:     strings.Trim(cfg.Prefix, "/"),
		token:      cfg.Token,
		logger:     log.With().Str("component", "rest_catalog").Str("uri", cfg.URI).Logger(),
	}, nil
}

// Error is a non-2xx response from the catalog.
type Error struct {
	Status  int
	Type    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest catalog: HTTP %d", e.Status)
	}
	return fmt.Sprintf("rest catalog: %s (HTTP %d)", e.Message, e.Status)
}

// Unwrap maps 404 to catalog.ErrNotFound.
func (e *Error) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return catalog.ErrNotFound
	}
	return nil
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ListNamespaces implements catalog.MetadataSource.
func (c *Client) ListNamespaces(ctx context.Context, parent catalog.Identifier) ([]catalog.Identifier, error) {
	query := url.Values{}
	if len(parent) > 0 {
		query.Set("parent", strings.Join(parent, namespaceSeparator))
	}

	var out []catalog.Identifier
	err := c.paginate(ctx, "namespaces", query, func(body []byte) (string, error) {
		var resp struct {
			Namespaces    [][]string `json:"namespaces"`
			NextPageToken string     `json:"next-page-token"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode namespaces: %w", err)
		}
		for _, ns := range resp.Namespaces {
			id, err := catalog.ParseIdentifier(ns)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
		return resp.NextPageToken, nil
	})
	return out, err
}

// ListTables implements catalog.MetadataSource.
func (c *Client) ListTables(ctx context.Context, namespace catalog.Identifier) ([]catalog.Identifier, error) {
	path := "namespaces/" + encodeNamespace(namespace) + "/tables"

	var out []catalog.Identifier
	err := c.paginate(ctx, path, url.Values{}, func(body []byte) (string, error) {
		var resp struct {
			Identifiers []struct {
				Namespace []string `json:"namespace"`
				Name      string   `json:"name"`
			} `json:"identifiers"`
			NextPageToken string `json:"next-page-token"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode tables: %w", err)
		}
		for _, t := range resp.Identifiers {
			out = append(out, catalog.Identifier(t.Namespace).Join(t.Name))
		}
		return resp.NextPageToken, nil
	})
	return out, err
}

// LoadTable implements catalog.MetadataSource.
func (c *Client) LoadTable(ctx context.Context, table catalog.Identifier) (*catalog.TableMetadata, error) {
	if len(table) < 2 {
		return nil, fmt.Errorf("table identifier %q must include a namespace", table.String())
	}
	path := "namespaces/" + encodeNamespace(table.Namespace()) + "/tables/" + url.PathEscape(table.Name())

	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		MetadataLocation string        `json:"metadata-location"`
		Metadata         tableMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode table %s: %w", table, err)
	}

	meta, err := resp.Metadata.toCatalog()
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}
	meta.Identifier = table
	return meta, nil
}

func encodeNamespace(ns catalog.Identifier) string {
	return url.PathEscape(strings.Join(ns, namespaceSeparator))
}

func (c *Client) paginate(ctx context.Context, path string, query url.Values, page func([]byte) (string, error)) error {
	for {
		body, err := c.get(ctx, path, query)
		if err != nil {
			return err
		}
		next, err := page(body)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		query.Set("pageToken", next)
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.ensureConfigured(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	prefix := c.prefix
	c.mu.Unlock()

	full := "v1/"
	if prefix != "" {
		full += prefix + "/"
	}
	full += path

	return c.do(ctx, http.MethodGet, full, query, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, form url.Values) ([]byte, error) {
	// path segments arrive already escaped
	target := c.baseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest catalog: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest catalog: read response: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("REST catalog request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Message = er.Error.Message
			apiErr.Type = er.Error.Type
		}
		return nil, apiErr
	}

	return data, nil
}

// ensureConfigured fetches an OAuth token (when a credential is set) and the
// server-side prefix from /v1/config, once.
func (c *Client) ensureConfigured(ctx context.Context) error {
	c.mu.Lock()
	done := c.configured
	needToken := c.token == "" && c.credential != ""
	c.mu.Unlock()
	if done {
		return nil
	}

	if needToken {
		if err := c.fetchToken(ctx); err != nil {
			return err
		}
	}

	query := url.Values{}
	if c.warehouse != "" {
		query.Set("warehouse", c.warehouse)
	}
	data, err := c.do(ctx, http.MethodGet, "v1/config", query, nil)
	if err != nil {
		return fmt.Errorf("load catalog config: %w", err)
	}

	var resp struct {
		Defaults  map[string]string `json:"defaults"`
		Overrides map[string]string `json:"overrides"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode catalog config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefix == "" {
		if p := resp.Overrides["prefix"]; p != "" {
			c.prefix = strings.Trim(p, "/")
		} else if p := resp.Defaults["prefix"]; p != "" {
			c.prefix = strings.Trim(p, "/")
		}
	}
	c.configured = true
	return nil
}

func (c *Client) fetchToken(ctx context.Context) error {
	clientID, secret, ok := strings.Cut(c.credential, ":")
	if !ok {
		clientID, secret = "", c.credential
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", secret)
	form.Set("scope", c.scope)

	data, err := c.do(ctx, http.MethodPost, "v1/oauth/tokens", nil, form)
	if err != nil {
		return fmt.Errorf("fetch oauth token: %w", err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode oauth token: %w", err)
	}
	if resp.AccessToken == "" {
		return errors.New("fetch oauth token: empty access_token")
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.mu.Unlock()
	return nil
}
