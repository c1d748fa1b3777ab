package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreMarkSeenTwiceKeepsOneRecord(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	if seen, _ := store.HasSeen(ctx, "x"); seen {
		t.Fatalf("expected unseen before mark")
	}
	for i := 0; i < 2; i++ {
		if err := store.MarkSeen(ctx, "x"); err != nil {
			t.Fatalf("mark seen failed: %v", err)
		}
	}
	if seen, _ := store.HasSeen(ctx, "x"); !seen {
		t.Fatalf("expected seen after mark")
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("expected 1 record, got %d", n)
	}
}

func TestMemoryStoreIgnoresEmptyID(t *testing.T) {
	store := NewMemoryStore(0)
	if err := store.MarkSeen(context.Background(), ""); err != nil {
		t.Fatalf("mark seen failed: %v", err)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatalf("expected empty id to be ignored, got %d records", n)
	}
}

func TestMemoryStoreHonorsTTL(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	_ = store.MarkSeen(context.Background(), "a")

	store.now = func() time.Time { return now.Add(30 * time.Second) }
	if seen, _ := store.HasSeen(context.Background(), "a"); !seen {
		t.Fatalf("expected id inside ttl to be seen")
	}
	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	if seen, _ := store.HasSeen(context.Background(), "a"); seen {
		t.Fatalf("expected id to expire")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	store, err := Open(Config{Backend: "memory"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	if _, err := Open(Config{Backend: "postgres"}); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func TestRedisStoreKeyLayoutAndEmptyID(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	store := NewRedisStoreWithClient(client, "", 0)
	t.Cleanup(func() { _ = store.Close() })

	if got := store.key("42"); got != "marketwatch:sent:42" {
		t.Fatalf("key()=%q", got)
	}
	// Empty ids must short-circuit without touching the network.
	seen, err := store.HasSeen(context.Background(), "")
	if err != nil || seen {
		t.Fatalf("expected empty id to be unseen without error, got %v %v", seen, err)
	}
	if err := store.MarkSeen(context.Background(), ""); err != nil {
		t.Fatalf("expected empty id mark to be a no-op, got %v", err)
	}
}
