package filter

import (
	"context"
	"fmt"

	"github.com/rushteam/bookrec/core"
)

// RatedFilter 过滤掉当前用户已经评过分的书。
type RatedFilter struct {
	Reviews core.ReviewStore
}

func (f *RatedFilter) Name() string {
	return "filter.rated"
}

// Prepare 读取一次用户评分。
func (f *RatedFilter) Prepare(ctx context.Context, rctx *core.RecommendContext) (Filter, error) {
	set := newIDSet(f.Name(), nil)
	if f.Reviews == nil || rctx == nil || rctx.UserID == "" {
		return set, nil
	}
	ratings, err := f.Reviews.UserRatings(ctx, rctx.UserID)
	if err != nil {
		return nil, fmt.Errorf("filter.rated: load ratings: %w", err)
	}
	for _, r := range ratings {
		set.ids[r.BookID] = struct{}{}
	}
	return set, nil
}

func (f *RatedFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	set, err := f.Prepare(ctx, rctx)
	if err != nil {
		return false, err
	}
	return set.ShouldFilter(ctx, rctx, item)
}
