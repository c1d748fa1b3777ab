// Package filter decides which fetched listings are worth a notification.
//
// Dedup is the authoritative policy: a listing is new exactly when the seen
// store has no record of it. The trailing time window is kept as an optional
// pre-filter; used on its own it re-notifies whenever the poll interval
// exceeds the window and misses items whenever a cycle is late.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
)

// Policy names accepted by FromName.
const (
	PolicyDedup       = "dedup"
	PolicyWindow      = "window"
	PolicyWindowDedup = "window+dedup"
)

// Policy reports whether a listing should be notified.
type Policy interface {
	IsNew(ctx context.Context, listing core.Listing) (bool, error)
}

// DedupPolicy keeps listings the store has never seen.
type DedupPolicy struct {
	Store dedupe.SeenStore
}

func (p DedupPolicy) IsNew(ctx context.Context, listing core.Listing) (bool, error) {
	if listing.ID == "" {
		return false, nil
	}
	seen, err := p.Store.HasSeen(ctx, listing.ID)
	if err != nil {
		return false, fmt.Errorf("check seen %q: %w", listing.ID, err)
	}
	return !seen, nil
}

// WindowPolicy keeps listings published within the trailing Window.
// Listings without any timestamp are never considered fresh.
type WindowPolicy struct {
	Window time.Duration
	Now    func() time.Time
}

func (p WindowPolicy) IsNew(ctx context.Context, listing core.Listing) (bool, error) {
	_ = ctx
	published := listing.PublishedAt()
	if published.IsZero() {
		return false, nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	current := now().UTC()
	// Small clock skew between us and the marketplace shows up as future timestamps.
	if published.After(current.Add(time.Minute)) {
		return false, nil
	}
	return !published.Before(current.Add(-p.Window)), nil
}

// Chain keeps a listing only if every policy does, evaluating in order.
type Chain []Policy

func (c Chain) IsNew(ctx context.Context, listing core.Listing) (bool, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		ok, err := p.IsNew(ctx, listing)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// FromName builds one of the named policies.
func FromName(name string, store dedupe.SeenStore, window time.Duration) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyDedup:
		if store == nil {
			return nil, fmt.Errorf("dedup policy requires a seen store")
		}
		return DedupPolicy{Store: store}, nil
	case PolicyWindow:
		if window <= 0 {
			return nil, fmt.Errorf("window policy requires a positive window")
		}
		return WindowPolicy{Window: window}, nil
	case PolicyWindowDedup:
		if store == nil || window <= 0 {
			return nil, fmt.Errorf("window+dedup policy requires a seen store and a positive window")
		}
		return Chain{WindowPolicy{Window: window}, DedupPolicy{Store: store}}, nil
	default:
		return nil, fmt.Errorf("unknown filter policy %q", name)
	}
}

// Apply returns the listings the policy accepts, in their original order.
// A policy error drops that one listing and is logged; it never aborts the batch.
func Apply(ctx context.Context, policy Policy, listings []core.Listing) []core.Listing {
	logger := core.LoggerFromContext(ctx)
	out := make([]core.Listing, 0, len(listings))
	for _, l := range listings {
		ok, err := policy.IsNew(ctx, l)
		if err != nil {
			logger.Warn("Filter failed, skipping listing", slog.String("item_id", l.ID), slog.String("error", err.Error()))
			continue
		}
		if ok {
			out = append(out, l)
		}
	}
	return out
}
