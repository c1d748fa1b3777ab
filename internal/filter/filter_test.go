package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
)

type failingStore struct {
	dedupe.SeenStore
	failID string
}

func (s failingStore) HasSeen(ctx context.Context, id string) (bool, error) {
	if id == s.failID {
		return false, errors.New("disk on fire")
	}
	return s.SeenStore.HasSeen(ctx, id)
}

func ids(listings []core.Listing) []string {
	out := make([]string, 0, len(listings))
	for _, l := range listings {
		out = append(out, l.ID)
	}
	return out
}

func TestDedupPolicyKeepsUnseenInOrder(t *testing.T) {
	store := dedupe.NewMemoryStore(0)
	_ = store.MarkSeen(context.Background(), "A")
	_ = store.MarkSeen(context.Background(), "C")

	got := Apply(context.Background(), DedupPolicy{Store: store}, []core.Listing{{ID: "A"}, {ID: "B"}, {ID: "C"}, {ID: "D"}})
	if g := ids(got); len(g) != 2 || g[0] != "B" || g[1] != "D" {
		t.Fatalf("expected [B D], got %v", g)
	}
}

func TestDedupPolicyRejectsEmptyID(t *testing.T) {
	ok, err := DedupPolicy{Store: dedupe.NewMemoryStore(0)}.IsNew(context.Background(), core.Listing{})
	if err != nil || ok {
		t.Fatalf("expected id-less listing to be rejected, got %v %v", ok, err)
	}
}

func TestApplySkipsListingOnStoreError(t *testing.T) {
	store := failingStore{SeenStore: dedupe.NewMemoryStore(0), failID: "B"}
	got := Apply(context.Background(), DedupPolicy{Store: store}, []core.Listing{{ID: "A"}, {ID: "B"}, {ID: "C"}})
	if g := ids(got); len(g) != 2 || g[0] != "A" || g[1] != "C" {
		t.Fatalf("expected [A C], got %v", g)
	}
}

func TestWindowPolicy(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := WindowPolicy{Window: 2 * time.Minute, Now: func() time.Time { return now }}

	cases := []struct {
		name    string
		listing core.Listing
		want    bool
	}{
		{"fresh photo", core.Listing{Photos: []core.Photo{{URL: "a", Timestamp: now.Add(-time.Minute)}}}, true},
		{"boundary", core.Listing{CreatedAt: now.Add(-2 * time.Minute)}, true},
		{"stale", core.Listing{CreatedAt: now.Add(-3 * time.Minute)}, false},
		{"no timestamp", core.Listing{}, false},
		{"far future", core.Listing{CreatedAt: now.Add(time.Hour)}, false},
		{"non-utc zone", core.Listing{CreatedAt: now.Add(-30 * time.Second).In(time.FixedZone("CEST", 2*3600))}, true},
	}
	for _, tc := range cases {
		got, err := policy.IsNew(context.Background(), tc.listing)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: IsNew()=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestChainShortCircuits(t *testing.T) {
	now := time.Now()
	store := failingStore{SeenStore: dedupe.NewMemoryStore(0), failID: "stale"}
	chain := Chain{WindowPolicy{Window: time.Minute, Now: func() time.Time { return now }}, DedupPolicy{Store: store}}

	// The window rejects "stale" before the failing store is consulted.
	ok, err := chain.IsNew(context.Background(), core.Listing{ID: "stale", CreatedAt: now.Add(-time.Hour)})
	if err != nil || ok {
		t.Fatalf("expected stale listing to be rejected without error, got %v %v", ok, err)
	}
	ok, err = chain.IsNew(context.Background(), core.Listing{ID: "fresh", CreatedAt: now})
	if err != nil || !ok {
		t.Fatalf("expected fresh unseen listing to pass, got %v %v", ok, err)
	}
}

func TestFromName(t *testing.T) {
	store := dedupe.NewMemoryStore(0)
	for _, name := range []string{"", "dedup", "window", "window+dedup"} {
		if _, err := FromName(name, store, time.Minute); err != nil {
			t.Fatalf("FromName(%q) error = %v", name, err)
		}
	}
	if _, err := FromName("ranking", store, time.Minute); err == nil {
		t.Fatalf("expected unknown policy error")
	}
	if _, err := FromName("dedup", nil, 0); err == nil {
		t.Fatalf("expected dedup without store to fail")
	}
}
