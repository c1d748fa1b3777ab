package dedupe

import (
	"context"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

// SeenStore tracks identifiers of items that were already notified.
// MarkSeen is insert-if-absent: marking an item twice keeps the first record.
type SeenStore interface {
	HasSeen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*core.SeenRecord, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// timestampLayout is how sent_at values are persisted.
const timestampLayout = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func expired(sentAt time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return sentAt.Before(now.UTC().Add(-ttl))
}
