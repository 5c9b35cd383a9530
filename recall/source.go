package recall

import (
	"context"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pkg/utils"
)

// Source 表示一个可复用的召回源（CF/内容/标签/热门）。
// 你可以把它理解为“可并发 fan-out 的策略单元”。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error)
}

// resolveItems 把排好序的 ScoredBook 解析为 Item，保持顺序并打上召回来源 label。
func resolveItems(ctx context.Context, books core.BookStore, ranked []core.ScoredBook, source string) ([]*core.Item, error) {
	if len(ranked) == 0 {
		return []*core.Item{}, nil
	}
	resolved, err := books.BooksByIDs(ctx, core.BookIDs(ranked))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*core.Book, len(resolved))
	for _, b := range resolved {
		byID[b.ID] = b
	}
	out := make([]*core.Item, 0, len(ranked))
	for _, sb := range ranked {
		b, ok := byID[sb.BookID]
		if !ok {
			continue
		}
		it := core.NewBookItem(b, sb.Score)
		it.PutLabel("recall_source", utils.Label{Value: source, Source: "recall"})
		out = append(out, it)
	}
	return out, nil
}
