// Package crmapi is the REST client for the agency CRM.
//
// A Client is bound to at most one access token (see WithToken) and is safe
// for concurrent use. Responses are mapped into domain types; failures wrap
// one of the package failure classes.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/pkg/logger"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxPages = 200
	maxErrorBody    = 64 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// MaxPages bounds how many "next" links a list call follows.
	MaxPages int
}

// Client talks to the CRM REST API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	maxPages   int
	token      string
	log        *zap.Logger
}

// New creates an unauthenticated client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse crm base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("crm base url %q: scheme must be http or https", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 16},
		},
		baseURL:   base,
		userAgent: cfg.UserAgent,
		maxPages:  maxPages,
		log:       logger.Component("crm_client"),
	}, nil
}

// WithToken returns a copy of c that sends token as a Bearer credential.
// The copy shares the underlying connection pool.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Token returns the bound access token.
func (c *Client) Token() string {
	return c.token
}

// Ping reports whether the CRM answers HTTP at all. Any status counts as
// reachable; only transport failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.resolve("/"), http.NoBody)
	if err != nil {
		return fmt.Errorf("build ping: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ping: %v", ErrNetwork, err)
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL.String() + path
}

// do sends one request and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	endpoint := metricEndpoint(path)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeRequest(endpoint, method, "error", time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	observeRequest(endpoint, method, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := classify(method, path, resp.StatusCode, raw)
		c.log.Debug("CRM request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Error(statusErr),
		)
		return statusErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: decode %s %s: %v", ErrNetwork, method, path, err)
	}
	return nil
}

// classify maps a non-2xx response onto a failure class.
func classify(method, path string, status int, body []byte) error {
	if status == http.StatusBadRequest {
		return parseValidation(body)
	}
	se := &StatusError{Method: method, Path: path, StatusCode: status, Detail: detailOf(body)}
	switch status {
	case http.StatusUnauthorized:
		se.class = ErrUnauthorized
	case http.StatusForbidden:
		se.class = ErrForbidden
	case http.StatusNotFound:
		se.class = ErrNotFound
	default:
		se.class = ErrNetwork
	}
	return se
}

// parseValidation decodes a DRF error body. Unknown shapes become Detail.
func parseValidation(body []byte) *ValidationError {
	vErr := &ValidationError{Fields: map[string][]string{}}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		vErr.Detail = strings.TrimSpace(string(body))
		return vErr
	}
	var details []string
	for key, value := range raw {
		msgs := messagesOf(value)
		if len(msgs) == 0 {
			continue
		}
		switch key {
		case "detail", "error", "non_field_errors":
			details = append(details, msgs...)
		default:
			vErr.Fields[key] = msgs
		}
	}
	vErr.Detail = strings.Join(details, " ")
	return vErr
}

func messagesOf(raw json.RawMessage) []string {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func detailOf(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		return payload.Error
	}
	return ""
}

type page[T any] struct {
	Results []T     `json:"results"`
	Next    *string `json:"next"`
}

// listAll fetches every page of a collection. The CRM answers either with a
// bare JSON array or with a paginated {"results": [...], "next": url} object.
func listAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	next := path
	for pages := 0; next != ""; pages++ {
		if pages >= c.maxPages {
			return nil, fmt.Errorf("%w: GET %s: more than %d pages", ErrNetwork, path, c.maxPages)
		}
		var raw json.RawMessage
		if err := c.do(ctx, http.MethodGet, next, nil, &raw); err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			var items []T
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("%w: decode GET %s: %v", ErrNetwork, path, err)
			}
			return append(all, items...), nil
		}
		var p page[T]
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("%w: decode GET %s: %v", ErrNetwork, path, err)
			}
		}
		all = append(all, p.Results...)
		next = ""
		if p.Next != nil && *p.Next != "" {
			u, err := c.sameOrigin(*p.Next)
			if err != nil {
				return nil, fmt.Errorf("%w: GET %s: %v", ErrNetwork, path, err)
			}
			next = u
		}
	}
	if all == nil {
		all = []T{}
	}
	return all, nil
}

// sameOrigin resolves a pagination link against the base URL and refuses
// links to another scheme or host, which would otherwise receive the bearer
// token.
func (c *Client) sameOrigin(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse next link %q: %w", link, err)
	}
	abs := c.baseURL.ResolveReference(u)
	if abs.Scheme != c.baseURL.Scheme || abs.Host != c.baseURL.Host {
		return "", fmt.Errorf("next link %q leaves %s://%s", link, c.baseURL.Scheme, c.baseURL.Host)
	}
	return abs.String(), nil
}
