package mock

import (
	"context"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Searcher returns canned listings per raw query. Queries listed in Errs fail.
type Searcher struct {
	Results map[string][]core.Listing
	Errs    map[string]error
	Calls   []core.Query
}

func (s *Searcher) Search(ctx context.Context, query core.Query, pageSize int) ([]core.Listing, error) {
	_ = ctx
	_ = pageSize
	s.Calls = append(s.Calls, query)
	if err, ok := s.Errs[query.Raw]; ok {
		return nil, err
	}
	return s.Results[query.Raw], nil
}
