package recall

import (
	"context"
	"fmt"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/tfidf"
)

// TagSimilarity 是基于标签的 i2i 召回源：在全书目的标签集合上构建 TF-IDF，
// 返回与种子书籍余弦相似度最高的 TopN 本书。
//
// 种子书籍从 rctx.Params["book_id"] 读取。
type TagSimilarity struct {
	Books core.BookStore

	// TopN 返回数量，默认 10
	TopN int

	// Scheme 词频计算方式，默认 Raw
	Scheme tfidf.Scheme

	// Cache 可选的 idf 缓存，按标签语料版本失效
	Cache *tfidf.Cache
}

func (r *TagSimilarity) Name() string        { return "recall.tag" }
func (r *TagSimilarity) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *TagSimilarity) topN() int {
	if r.TopN <= 0 {
		return 10
	}
	return r.TopN
}

// Rank 在 books 上计算与 bookID 的标签相似度，降序、同分按 ID 升序，最多 topN 条。
// 种子书籍不存在或没有标签时 ok 为 false。
func (r *TagSimilarity) Rank(books []*core.Book, bookID int64, topN int) (ranked []core.ScoredBook, ok bool) {
	if topN <= 0 {
		topN = r.topN()
	}
	corpus := make(tfidf.Corpus, len(books))
	for _, b := range books {
		tags := b.Tags
		if tags == nil {
			tags = []string{}
		}
		corpus[b.ID] = tags
	}
	seed, found := corpus[bookID]
	if !found || len(seed) == 0 {
		return nil, false
	}

	idx := tfidf.NewIndex(corpus, r.Scheme)
	idf := r.Cache.IDF(tfidf.CorpusVersion(corpus), idx.IDF)
	query := idx.Vectorize(seed, idf)

	scores := make(map[int64]float64, len(corpus))
	for id, sim := range idx.SimilarityToCorpus(query, idf) {
		if id == bookID || len(corpus[id]) == 0 {
			continue
		}
		scores[id] = sim
	}
	ranked = core.ScoreMapToSorted(scores)
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, true
}

// SimilarBooks 返回与 bookID 标签最相似的书。
// 种子书籍不存在或没有标签时返回空列表并记录告警，不返回错误。
func (r *TagSimilarity) SimilarBooks(ctx context.Context, bookID int64) ([]*core.Book, error) {
	items, err := r.similar(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return core.ItemsToBooks(items), nil
}

func (r *TagSimilarity) similar(ctx context.Context, bookID int64) ([]*core.Item, error) {
	if r.Books == nil {
		return nil, fmt.Errorf("recall.tag: missing book store")
	}
	books, err := r.Books.AllBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall.tag: load books: %w", err)
	}
	ranked, ok := r.Rank(books, bookID, r.topN())
	if !ok {
		logging.Ctx(ctx).Warn().Int64("book_id", bookID).Msg("book not found or has no tags")
		return []*core.Item{}, nil
	}
	return resolveItems(ctx, r.Books, ranked, r.Name())
}

// Process 实现 Node 接口，直接调用 Recall
func (r *TagSimilarity) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口。缺少 book_id 参数时返回空。
func (r *TagSimilarity) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	bookID, ok := rctx.ParamInt64(core.ParamBookID)
	if !ok {
		return nil, nil
	}
	return r.similar(ctx, bookID)
}
