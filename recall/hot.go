package recall

import (
	"context"
	"fmt"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/store"
)

// Hot 是热门召回源：score = 评分数 * 均分，排除用户已评分的书。
//   - 默认每次请求从 Reviews 的全量评分实时计算
//   - Offline 或未配置 Reviews 时，从 Store 的有序集合（PublishPopular 写入）读取离线热门榜，
//     此时 Reviews 只用于读取当前用户的评分
//
// Hot 同时实现了 Source 和 Node 接口，可以直接在 Pipeline 中使用
type Hot struct {
	Books   core.BookStore
	Reviews core.ReviewStore

	// Store/Key 是离线热门榜
	Store core.KeyValueStore
	Key   string

	// Offline 为 true 时只读离线热门榜
	Offline bool

	// Limit 返回数量，默认 5
	Limit int
}

func (r *Hot) Name() string        { return "recall.hot" }
func (r *Hot) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *Hot) limit() int {
	if r.Limit <= 0 {
		return 5
	}
	return r.Limit
}

// MostPopular 按 count * avg 降序返回书籍，同分按 ID 升序，排除 excludeUserID 评过分的书。
func (r *Hot) MostPopular(ratings []core.Rating, excludeUserID string, limit int) []core.ScoredBook {
	if limit <= 0 {
		limit = r.limit()
	}
	rated := core.RatedBy(ratings, excludeUserID)
	stats := core.AggregateRatings(ratings)

	scored := make([]core.ScoredBook, 0, len(stats))
	for bookID, s := range stats {
		if _, ok := rated[bookID]; ok {
			continue
		}
		scored = append(scored, core.ScoredBook{BookID: bookID, Score: float64(s.Count) * s.Average})
	}
	core.SortScoredBooks(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// Popular 返回 userID 的热门书籍。
func (r *Hot) Popular(ctx context.Context, userID string) ([]*core.Item, error) {
	if r.Books == nil {
		return nil, fmt.Errorf("recall.hot: missing book store")
	}

	var ranked []core.ScoredBook
	switch {
	case r.Store != nil && (r.Offline || r.Reviews == nil):
		var err error
		if ranked, err = r.published(ctx, userID); err != nil {
			return nil, err
		}
	case r.Reviews != nil:
		ratings, err := r.Reviews.AllRatings(ctx)
		if err != nil {
			return nil, fmt.Errorf("recall.hot: load ratings: %w", err)
		}
		ranked = r.MostPopular(ratings, userID, r.limit())
	default:
		return []*core.Item{}, nil
	}
	return resolveItems(ctx, r.Books, ranked, r.Name())
}

// published 读取离线热门榜，排除 userID 评过分的书后取前 limit 本。
func (r *Hot) published(ctx context.Context, userID string) ([]core.ScoredBook, error) {
	rated := map[int64]struct{}{}
	if r.Reviews != nil && userID != "" {
		ratings, err := r.Reviews.UserRatings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("recall.hot: load user ratings: %w", err)
		}
		rated = core.RatedBy(ratings, userID)
	}
	ids, err := store.ReadPopular(ctx, r.Store, r.Key, r.limit()+len(rated))
	if err != nil {
		return nil, fmt.Errorf("recall.hot: read popular: %w", err)
	}
	ranked := make([]core.ScoredBook, 0, r.limit())
	for _, id := range ids {
		if len(ranked) >= r.limit() {
			break
		}
		if _, ok := rated[id]; ok {
			continue
		}
		// 以榜单位置作为分数，保证下游按分数排序时顺序不变
		ranked = append(ranked, core.ScoredBook{BookID: id, Score: float64(len(ids) - len(ranked))})
	}
	return ranked, nil
}

// Process 实现 Node 接口，直接调用 Recall
func (r *Hot) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口
func (r *Hot) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	userID := ""
	if rctx != nil {
		userID = rctx.UserID
	}
	return r.Popular(ctx, userID)
}
