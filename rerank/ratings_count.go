package rerank

import (
	"context"
	"sort"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
)

// RatingsCount 按书籍评分人数降序稳定重排，人数相同时保持上游顺序。
// 内容推荐在相关度候选池上做这一步，使结果偏向被更多人读过的书。
type RatingsCount struct{}

func (n *RatingsCount) Name() string {
	return "rerank.ratings_count"
}

func (n *RatingsCount) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *RatingsCount) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	sort.SliceStable(items, func(i, j int) bool {
		return ratingsCount(items[i]) > ratingsCount(items[j])
	})
	return items, nil
}

func ratingsCount(it *core.Item) int {
	if it == nil || it.Book == nil {
		return -1
	}
	return it.Book.RatingsCount
}
