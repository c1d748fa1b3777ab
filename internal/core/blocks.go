package core

import (
	"strings"
	"time"
)

// Query is a single saved search. Raw is either a marketplace search URL
// (carrying its own filters and sort order) or a free-text keyword phrase.
type Query struct {
	Raw  string `json:"raw" yaml:"raw"`
	Line int    `json:"line,omitempty" yaml:"line,omitempty"`
	// Rule is an optional filter expression evaluated against each listing.
	Rule string `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// IsURL reports whether the query should be handed to the URL-based search.
func (q Query) IsURL() bool {
	raw := strings.TrimSpace(q.Raw)
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func (q Query) String() string {
	return q.Raw
}

// Listing is the canonical shape of a marketplace item. It is built once at
// the API boundary; downstream code never reads the raw response.
type Listing struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Price     *Price    `json:"price,omitempty" yaml:"price,omitempty"`
	Brand     string    `json:"brand,omitempty" yaml:"brand,omitempty"`
	Size      string    `json:"size,omitempty" yaml:"size,omitempty"`
	URL       string    `json:"url" yaml:"url"`
	Photos    []Photo   `json:"photos,omitempty" yaml:"photos,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Price keeps the amount as the API sent it, so formatting never loses precision.
type Price struct {
	Amount       string `json:"amount" yaml:"amount"`
	CurrencyCode string `json:"currency_code" yaml:"currency_code"`
}

// Photo is a single listing image.
type Photo struct {
	URL       string    `json:"url" yaml:"url"`
	Timestamp time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// PhotoURLs returns up to limit non-empty photo URLs in listing order.
// A limit <= 0 returns all of them.
func (l Listing) PhotoURLs(limit int) []string {
	out := make([]string, 0, len(l.Photos))
	for _, p := range l.Photos {
		if limit > 0 && len(out) >= limit {
			break
		}
		if u := strings.TrimSpace(p.URL); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// PublishedAt returns the newest known timestamp for the listing, falling
// back to photo upload times when the API omitted a creation time.
func (l Listing) PublishedAt() time.Time {
	ts := l.CreatedAt
	for _, p := range l.Photos {
		if p.Timestamp.After(ts) {
			ts = p.Timestamp
		}
	}
	return ts.UTC()
}

// SeenRecord marks an item as already notified.
type SeenRecord struct {
	ItemID string    `json:"item_id" yaml:"item_id"`
	SentAt time.Time `json:"sent_at" yaml:"sent_at"`
}

// MaxMedia is the number of images attached to a single notification.
const MaxMedia = 3

// Payload is the rendered notification for one listing. It is never persisted.
type Payload struct {
	ItemID  string   `json:"item_id" yaml:"item_id"`
	Caption string   `json:"caption" yaml:"caption"`
	Media   []string `json:"media,omitempty" yaml:"media,omitempty"`
}

// HasMedia reports whether the payload should go through the photo path.
func (p Payload) HasMedia() bool {
	return len(p.Media) > 0
}
