package queries

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Source re-reads the queries file whenever it changes on disk and keeps
// serving the last good copy when a reload fails.
type Source struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	cached  []core.Query
	loaded  bool
}

func NewSource(path string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{path: path, logger: logger}
}

// Queries returns the current query list, reloading it if the file changed.
func (s *Source) Queries(ctx context.Context) ([]core.Query, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if s.loaded {
			s.logger.Warn("queries file unavailable, keeping previous list", slog.String("path", s.path), slog.String("error", err.Error()))
			return s.snapshot(), nil
		}
		return nil, fmt.Errorf("stat queries file: %w", err)
	}
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.snapshot(), nil
	}

	loaded, err := Load(s.path)
	if err != nil {
		if s.loaded {
			s.logger.Warn("reloading queries failed, keeping previous list", slog.String("path", s.path), slog.String("error", err.Error()))
			return s.snapshot(), nil
		}
		return nil, err
	}
	if s.loaded {
		s.logger.Info("queries reloaded", slog.String("path", s.path), slog.Int("queries", len(loaded)))
	}
	s.cached = loaded
	s.modTime = info.ModTime()
	s.size = info.Size()
	s.loaded = true
	return s.snapshot(), nil
}

func (s *Source) snapshot() []core.Query {
	out := make([]core.Query, len(s.cached))
	copy(out, s.cached)
	return out
}
