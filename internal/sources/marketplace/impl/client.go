package impl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/observability/otelx"
	"github.com/bakkerme/marketwatch/internal/retry"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

const (
	catalogPath      = "/api/v2/catalog/items"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) marketwatch/0.1"
	defaultTimeout   = 30 * time.Second
	newestFirst      = "newest_first"
)

// forwardedParams are the search URL parameters the catalog API understands.
// Array-style keys ("brand_ids[]") are folded into comma-separated values.
var forwardedParams = map[string]bool{
	"search_text":  true,
	"catalog_ids":  true,
	"brand_ids":    true,
	"size_ids":     true,
	"color_ids":    true,
	"material_ids": true,
	"status_ids":   true,
	"country_ids":  true,
	"city_ids":     true,
	"price_from":   true,
	"price_to":     true,
	"currency":     true,
	"is_for_swap":  true,
	"order":        true,
}

var errSessionExpired = errors.New("marketplace session expired")

// Client talks to a Vinted-style catalog API. The API only answers requests
// carrying the cookies handed out by the public site, so a session is
// bootstrapped per origin before the first search.
type Client struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *slog.Logger
	retry     retry.Config

	mu       sync.Mutex
	sessions map[string]bool
}

func NewClient(cfg marketplace.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		domain := strings.Trim(strings.TrimSpace(cfg.Domain), ".")
		if domain == "" {
			domain = "fr"
		}
		baseURL = "https://www.vinted." + domain
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid marketplace base url %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:    &http.Client{Timeout: timeout, Jar: jar},
		baseURL:   baseURL,
		userAgent: userAgent,
		logger:    logger,
		retry:     retry.Config{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		sessions:  map[string]bool{},
	}, nil
}

func (c *Client) Search(ctx context.Context, query core.Query, pageSize int) (_ []core.Listing, err error) {
	if pageSize <= 0 {
		pageSize = marketplace.DefaultPageSize
	}
	ctx, span := otelx.StartSpan(ctx, "marketplace", "marketplace.search",
		attribute.Int("marketplace.page_size", pageSize),
		attribute.Bool("query.url", query.IsURL()),
	)
	defer func() { otelx.EndSpan(span, err) }()

	origin, params, err := c.buildParams(query)
	if err != nil {
		return nil, err
	}
	params.Set("per_page", strconv.Itoa(pageSize))
	params.Set("page", "1")
	endpoint := origin + catalogPath + "?" + params.Encode()

	var body []byte
	err = retry.Do(ctx, c.retry, func() error {
		if err := c.ensureSession(ctx, origin); err != nil {
			return err
		}
		data, err := c.get(ctx, endpoint)
		if errors.Is(err, errSessionExpired) {
			c.dropSession(origin)
		}
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query.Raw, err)
	}

	listings, err := normalizeItems(body, origin)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query.Raw, err)
	}
	if len(listings) > pageSize {
		listings = listings[:pageSize]
	}
	span.SetAttributes(attribute.Int("marketplace.listings", len(listings)))
	c.logger.Debug("Catalog search finished",
		slog.String("cycle_id", core.CycleIDFromContext(ctx)),
		slog.String("query", core.QueryFromContext(ctx)),
		slog.String("origin", origin),
		slog.Int("listings", len(listings)),
	)
	return listings, nil
}

// buildParams turns a query into catalog API parameters. URL queries keep
// their own origin so a link copied from another country's site still works.
func (c *Client) buildParams(query core.Query) (string, url.Values, error) {
	raw := strings.TrimSpace(query.Raw)
	if raw == "" {
		return "", nil, fmt.Errorf("empty query")
	}
	params := url.Values{}
	if !query.IsURL() {
		params.Set("search_text", raw)
		params.Set("order", newestFirst)
		return c.baseURL, params, nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("malformed query url: %w", err)
	}
	if parsed.Host == "" {
		return "", nil, fmt.Errorf("malformed query url %q: missing host", raw)
	}
	for key, values := range parsed.Query() {
		name := strings.TrimSuffix(key, "[]")
		if !forwardedParams[name] {
			continue
		}
		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if existing := params.Get(name); existing != "" {
			kept = append([]string{existing}, kept...)
		}
		params.Set(name, strings.Join(kept, ","))
	}
	return parsed.Scheme + "://" + parsed.Host, params, nil
}

func (c *Client) ensureSession(ctx context.Context, origin string) error {
	c.mu.Lock()
	ready := c.sessions[origin]
	c.mu.Unlock()
	if ready {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/", nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap session: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("bootstrap session: %s", resp.Status)
	}

	c.logger.Debug("Marketplace session established", slog.String("origin", origin), slog.Int("status", resp.StatusCode))
	c.mu.Lock()
	c.sessions[origin] = true
	c.mu.Unlock()
	return nil
}

func (c *Client) dropSession(origin string) {
	c.mu.Lock()
	delete(c.sessions, origin)
	c.mu.Unlock()
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", errSessionExpired, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("marketplace transient error: %s", resp.Status)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, retry.Permanent(fmt.Errorf("marketplace request failed: %s: %s", resp.Status, truncate(string(body), 200)))
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
