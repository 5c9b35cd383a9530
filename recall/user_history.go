package recall

import (
	"context"
	"fmt"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
)

// UserHistory 是基于用户评分历史的召回源：推荐用户打过高分的作者的其他书。
// 同一作者被打高分的次数越多越靠前，其次按评分人数，再按书籍 ID。
type UserHistory struct {
	Books   core.BookStore
	Reviews core.ReviewStore

	// MinRating 视为"喜欢"的最低评分，默认 4
	MinRating int

	// TopK 返回 TopK 本，默认 10
	TopK int
}

func (r *UserHistory) Name() string {
	return "recall.user_history"
}

func (r *UserHistory) Kind() pipeline.Kind {
	return pipeline.KindRecall
}

func (r *UserHistory) minRating() int {
	if r.MinRating <= 0 {
		return 4
	}
	return r.MinRating
}

func (r *UserHistory) topK() int {
	if r.TopK <= 0 {
		return 10
	}
	return r.TopK
}

// Rank 对 books 计算 userRatings 的作者偏好排序，不含已评分的书。
func (r *UserHistory) Rank(books []*core.Book, userRatings []core.Rating) []core.ScoredBook {
	byID := make(map[int64]*core.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	rated := make(map[int64]struct{}, len(userRatings))
	liked := make(map[int64]int)
	for _, rt := range userRatings {
		rated[rt.BookID] = struct{}{}
		b, ok := byID[rt.BookID]
		if !ok || b.AuthorID == 0 || rt.Value < r.minRating() {
			continue
		}
		liked[b.AuthorID]++
	}
	if len(liked) == 0 {
		return []core.ScoredBook{}
	}

	out := make([]core.ScoredBook, 0)
	for _, b := range books {
		n, ok := liked[b.AuthorID]
		if !ok {
			continue
		}
		if _, seen := rated[b.ID]; seen {
			continue
		}
		out = append(out, core.ScoredBook{BookID: b.ID, Score: float64(n), Secondary: float64(b.RatingsCount)})
	}
	core.SortScoredBooks(out)
	if len(out) > r.topK() {
		out = out[:r.topK()]
	}
	return out
}

func (r *UserHistory) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

func (r *UserHistory) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	if r.Books == nil || r.Reviews == nil || rctx == nil || rctx.UserID == "" {
		return nil, nil
	}
	ratings, err := r.Reviews.UserRatings(ctx, rctx.UserID)
	if err != nil {
		return nil, fmt.Errorf("recall.user_history: load ratings: %w", err)
	}
	books, err := r.Books.AllBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall.user_history: load books: %w", err)
	}
	return resolveItems(ctx, r.Books, r.Rank(books, ratings), r.Name())
}
