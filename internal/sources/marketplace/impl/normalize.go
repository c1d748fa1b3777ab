package impl

import (
	"fmt"
	"strings"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/tidwall/gjson"
)

// Field paths tried, in order, for each concept. The catalog API has
// changed shape over time and different endpoints disagree.
var (
	photoURLPaths  = []string{"full_size_url", "url", "image_url", "small_url"}
	brandPaths     = []string{"brand_title", "brand.title", "brand"}
	sizePaths      = []string{"size_title", "size.title", "size"}
	currencyPaths  = []string{"currency", "price_currency", "currency_code"}
	pricePaths     = []string{"price", "total_item_price", "price_numeric"}
	createdAtPaths = []string{"created_at_ts", "created_at", "photo.high_resolution.timestamp"}
)

// normalizeItems maps a catalog response body onto canonical listings.
// Items without an id are dropped.
func normalizeItems(body []byte, baseURL string) ([]core.Listing, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json in catalog response")
	}
	root := gjson.ParseBytes(body)
	items := root.Get("items")
	if !items.IsArray() {
		if msg := firstString(root, "message", "error", "errors.0.message"); msg != "" {
			return nil, fmt.Errorf("catalog error: %s", msg)
		}
		return nil, fmt.Errorf("catalog response has no items array")
	}

	out := make([]core.Listing, 0, len(items.Array()))
	items.ForEach(func(_, item gjson.Result) bool {
		if listing, ok := normalizeItem(item, baseURL); ok {
			out = append(out, listing)
		}
		return true
	})
	return out, nil
}

func normalizeItem(item gjson.Result, baseURL string) (core.Listing, bool) {
	id := strings.TrimSpace(item.Get("id").String())
	if id == "" || id == "0" {
		return core.Listing{}, false
	}
	listing := core.Listing{
		ID:        id,
		Title:     strings.TrimSpace(item.Get("title").String()),
		Price:     normalizePrice(item),
		Brand:     firstString(item, brandPaths...),
		Size:      firstString(item, sizePaths...),
		URL:       strings.TrimSpace(item.Get("url").String()),
		Photos:    normalizePhotos(item),
		CreatedAt: firstTime(item, createdAtPaths...),
	}
	if listing.URL == "" && baseURL != "" {
		listing.URL = strings.TrimRight(baseURL, "/") + "/items/" + id
	} else if strings.HasPrefix(listing.URL, "/") && baseURL != "" {
		listing.URL = strings.TrimRight(baseURL, "/") + listing.URL
	}
	return listing, true
}

func normalizePrice(item gjson.Result) *core.Price {
	for _, path := range pricePaths {
		p := item.Get(path)
		if !p.Exists() || p.Type == gjson.Null {
			continue
		}
		if p.IsObject() {
			amount := strings.TrimSpace(p.Get("amount").String())
			if amount == "" {
				continue
			}
			currency := firstString(p, "currency_code", "currency")
			if currency == "" {
				currency = firstString(item, currencyPaths...)
			}
			return &core.Price{Amount: amount, CurrencyCode: currency}
		}
		amount := strings.TrimSpace(p.String())
		if amount == "" {
			continue
		}
		return &core.Price{Amount: amount, CurrencyCode: firstString(item, currencyPaths...)}
	}
	return nil
}

func normalizePhotos(item gjson.Result) []core.Photo {
	seen := map[string]bool{}
	var photos []core.Photo
	add := func(p gjson.Result) {
		if !p.IsObject() {
			if u := strings.TrimSpace(p.String()); p.Type == gjson.String && u != "" && !seen[u] {
				seen[u] = true
				photos = append(photos, core.Photo{URL: u})
			}
			return
		}
		u := firstString(p, photoURLPaths...)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		photos = append(photos, core.Photo{URL: u, Timestamp: firstTime(p, "high_resolution.timestamp", "timestamp")})
	}

	if main := item.Get("photo"); main.Exists() {
		add(main)
	}
	item.Get("photos").ForEach(func(_, p gjson.Result) bool {
		add(p)
		return true
	})
	return photos
}

func firstString(r gjson.Result, paths ...string) string {
	for _, path := range paths {
		v := r.Get(path)
		if !v.Exists() || v.IsObject() || v.IsArray() {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

// firstTime accepts unix seconds (number or numeric string) and RFC 3339 strings.
func firstTime(r gjson.Result, paths ...string) time.Time {
	for _, path := range paths {
		v := r.Get(path)
		switch v.Type {
		case gjson.Number:
			if v.Int() > 0 {
				return time.Unix(v.Int(), 0).UTC()
			}
		case gjson.String:
			s := strings.TrimSpace(v.String())
			if s == "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC()
			}
			if n := gjson.Parse(s); n.Type == gjson.Number && n.Int() > 0 {
				return time.Unix(n.Int(), 0).UTC()
			}
		}
	}
	return time.Time{}
}
