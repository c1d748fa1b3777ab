package marketplace

import (
	"context"
	"log/slog"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

// DefaultPageSize is used when callers pass a non-positive page size.
const DefaultPageSize = 20

// Config describes how to reach the marketplace catalog API.
type Config struct {
	Domain    string
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Searcher runs one query against the marketplace and returns at most
// pageSize listings, already normalized.
type Searcher interface {
	Search(ctx context.Context, query core.Query, pageSize int) ([]core.Listing, error)
}

// FailureHook is told about every query that failed.
type FailureHook func(ctx context.Context, query core.Query, err error)

// Client makes searching infallible from the caller's side: errors are
// logged and reported through the hook, and an empty result is returned.
type Client struct {
	searcher Searcher
	pageSize int
	logger   *slog.Logger
	onFail   FailureHook
}

func NewClient(searcher Searcher, pageSize int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{searcher: searcher, pageSize: pageSize, logger: logger}
}

// OnFailure registers a hook called after a failed search has been logged.
func (c *Client) OnFailure(hook FailureHook) {
	c.onFail = hook
}

func (c *Client) Search(ctx context.Context, query core.Query) []core.Listing {
	logger := c.loggerFor(ctx, query)
	started := time.Now()
	listings, err := c.searcher.Search(ctx, query, c.pageSize)
	if err != nil {
		logger.Warn("Search failed",
			slog.Int("line", query.Line),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("error", err.Error()),
		)
		if c.onFail != nil {
			c.onFail(ctx, query, err)
		}
		return []core.Listing{}
	}
	if len(listings) > c.pageSize {
		listings = listings[:c.pageSize]
	}
	logger.Debug("Search completed", slog.Int("listings", len(listings)), slog.Duration("elapsed", time.Since(started)))
	return listings
}

// loggerFor prefers the cycle-scoped logger carried by ctx, which already
// holds cycle_id and query.
func (c *Client) loggerFor(ctx context.Context, query core.Query) *slog.Logger {
	if logger, ok := core.ContextLogger(ctx); ok {
		return logger
	}
	return c.logger.With(slog.String("query", query.Raw))
}
