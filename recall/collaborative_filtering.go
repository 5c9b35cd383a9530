package recall

import (
	"context"
	"fmt"
	"sort"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/pkg/utils"
	"github.com/rushteam/bookrec/pkg/vecmath"
)

// UserBasedCF 是基于用户的协同过滤召回源（User-based Collaborative Filtering, User-CF）。
//
// 核心思想："兴趣相似的用户，喜欢相似的书"
//
// 算法流程：
//  1. 找出与目标用户共同评分 >= MinCommonItems 本书的用户
//  2. 在共同书籍上构建两条平行评分向量，计算余弦相似度
//  3. 按相似度降序遍历相似用户，收集其高分（>= MinRating）且目标用户未评过的书
//  4. 按全量评分的（均分, 评分数）重排候选，取 Limit 本，再按评分数重排后输出
//
// 共同评分不足的用户直接排除，而不是记为 0 分。
type UserBasedCF struct {
	Books   core.BookStore
	Reviews core.ReviewStore

	// MinCommonItems 两个用户至少需要有多少本共同评分的书才计算相似度，默认 3
	MinCommonItems int

	// MinRating 相似用户的评分达到该值才作为推荐候选，默认 4
	MinRating int

	// Limit 返回的推荐数量，默认 5
	Limit int
}

func (r *UserBasedCF) Name() string        { return "recall.cf" }
func (r *UserBasedCF) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *UserBasedCF) minCommon() int {
	if r.MinCommonItems <= 0 {
		return 3
	}
	return r.MinCommonItems
}

func (r *UserBasedCF) minRating() int {
	if r.MinRating <= 0 {
		return 4
	}
	return r.MinRating
}

func (r *UserBasedCF) limit() int {
	if r.Limit <= 0 {
		return 5
	}
	return r.Limit
}

// SimilarUsers 计算 target 与其他每个用户的余弦相似度。
// 只返回共同评分数达到阈值的用户。
func (r *UserBasedCF) SimilarUsers(target string, ratings []core.Rating) map[string]float64 {
	matrix := core.BuildRatingMatrix(ratings)
	out := make(map[string]float64)
	mine := matrix[target]
	if len(mine) == 0 {
		return out
	}

	minCommon := r.minCommon()
	excluded := 0
	for userID, theirs := range matrix {
		if userID == target {
			continue
		}
		common := make([]int64, 0, len(mine))
		for bookID := range mine {
			if _, ok := theirs[bookID]; ok {
				common = append(common, bookID)
			}
		}
		if len(common) < minCommon {
			excluded++
			continue
		}
		sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })

		a := make(vecmath.Dense, len(common))
		b := make(vecmath.Dense, len(common))
		for i, bookID := range common {
			a[i] = float64(mine[bookID])
			b[i] = float64(theirs[bookID])
		}
		out[userID] = vecmath.CosineDense(a, b)
	}

	if excluded > 0 {
		logging.L().Debug().
			Str("user_id", target).
			Int("excluded", excluded).
			Str("reason", core.ErrorCodeInsufficientSignal).
			Msg("users excluded from similarity")
	}
	return out
}

// rankedUsers 按相似度降序排序，相同相似度按用户 ID 升序。
func rankedUsers(sims map[string]float64) []string {
	users := make([]string, 0, len(sims))
	for u := range sims {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if sims[users[i]] != sims[users[j]] {
			return sims[users[i]] > sims[users[j]]
		}
		return users[i] < users[j]
	})
	return users
}

// Suggest 返回推荐书籍 ID，最多 limit 本，不包含 target 已评分的书。
// limit <= 0 时使用 Limit。
func (r *UserBasedCF) Suggest(target string, ratings []core.Rating, limit int) []int64 {
	if limit <= 0 {
		limit = r.limit()
	}
	sims := r.SimilarUsers(target, ratings)
	if len(sims) == 0 {
		return []int64{}
	}

	matrix := core.BuildRatingMatrix(ratings)
	mine := matrix[target]
	minRating := r.minRating()

	picked := make(map[int64]struct{}, limit)
	candidates := make([]int64, 0, limit)
collect:
	for _, userID := range rankedUsers(sims) {
		theirs := matrix[userID]
		bookIDs := make([]int64, 0, len(theirs))
		for bookID := range theirs {
			bookIDs = append(bookIDs, bookID)
		}
		sort.Slice(bookIDs, func(i, j int) bool { return bookIDs[i] < bookIDs[j] })

		for _, bookID := range bookIDs {
			if len(candidates) >= limit {
				break collect
			}
			if theirs[bookID] < minRating {
				continue
			}
			if _, seen := mine[bookID]; seen {
				continue
			}
			if _, dup := picked[bookID]; dup {
				continue
			}
			picked[bookID] = struct{}{}
			candidates = append(candidates, bookID)
		}
	}
	if len(candidates) == 0 {
		return []int64{}
	}

	// 第一轮：按全量评分的均分降序、评分数降序选出候选池
	stats := core.AggregateRatings(ratings)
	pool := make([]core.ScoredBook, 0, len(candidates))
	for _, bookID := range candidates {
		s := stats[bookID]
		pool = append(pool, core.ScoredBook{BookID: bookID, Score: s.Average, Secondary: float64(s.Count)})
	}
	core.SortScoredBooks(pool)
	if len(pool) > limit {
		pool = pool[:limit]
	}

	// 第二轮：同一候选池仅按评分数降序（稳定）输出，会覆盖第一轮的均分顺序。
	// 两轮排序沿用线上行为，改为单轮前需确认首页结果的预期。
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Secondary > pool[j].Secondary })
	return core.BookIDs(pool)
}

// SuggestionsFor 读取全量评分并返回 userID 的推荐书籍。
func (r *UserBasedCF) SuggestionsFor(ctx context.Context, userID string) ([]*core.Book, error) {
	if r.Reviews == nil || r.Books == nil {
		return nil, fmt.Errorf("recall.cf: missing book or review store")
	}
	ratings, err := r.Reviews.AllRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall.cf: load ratings: %w", err)
	}
	ids := r.Suggest(userID, ratings, r.limit())
	if len(ids) == 0 {
		return []*core.Book{}, nil
	}
	books, err := r.Books.BooksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("recall.cf: load books: %w", err)
	}
	return books, nil
}

// CollaborativeScores 计算 target 的协同分：相似用户对每本书的 rating * similarity 求和，
// 再除以最大值归一化到 [0, 1]。最大值 <= 0 时返回未归一化的结果。
func (r *UserBasedCF) CollaborativeScores(target string, ratings []core.Rating) map[int64]float64 {
	sims := r.SimilarUsers(target, ratings)
	scores := make(map[int64]float64)
	if len(sims) == 0 {
		return scores
	}
	for _, rt := range ratings {
		sim, ok := sims[rt.UserID]
		if !ok {
			continue
		}
		scores[rt.BookID] += float64(rt.Value) * sim
	}

	var maxScore float64
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore > 0 {
		for id := range scores {
			scores[id] /= maxScore
		}
	}
	return scores
}

// Process 实现 Node 接口，直接调用 Recall
func (r *UserBasedCF) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口。没有用户或没有相似用户时返回空。
func (r *UserBasedCF) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	if rctx == nil || rctx.UserID == "" {
		return nil, nil
	}
	books, err := r.SuggestionsFor(ctx, rctx.UserID)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Item, 0, len(books))
	n := float64(len(books))
	for i, b := range books {
		// 以输出位置作为分数，保证后续按分数排序时顺序不变
		it := core.NewBookItem(b, (n-float64(i))/n)
		it.PutLabel("recall_source", utils.Label{Value: r.Name(), Source: "recall"})
		out = append(out, it)
	}
	return out, nil
}
