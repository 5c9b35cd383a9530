package recall

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/pkg/dsl"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/pkg/utils"
	"github.com/rushteam/bookrec/pkg/vecmath"
	"github.com/rushteam/bookrec/tfidf"
)

// Weights 是混合打分的权重：final = TFIDF*tfidf + Embedding*emb + Collaborative*cf。
type Weights struct {
	TFIDF         float64 `yaml:"tfidf" validate:"gte=0"`
	Embedding     float64 `yaml:"embedding" validate:"gte=0"`
	Collaborative float64 `yaml:"collaborative" validate:"gte=0"`
}

// DefaultWeights 描述与向量各占一半，协同分不参与。
var DefaultWeights = Weights{TFIDF: 0.5, Embedding: 0.5}

// IsZero 表示三项权重均为 0。
func (w Weights) IsZero() bool {
	return w.TFIDF == 0 && w.Embedding == 0 && w.Collaborative == 0
}

// HybridContent 是基于内容的召回源：自由文本查询 -> 书籍。
//
// 算法流程：
//  1. 并发：查询分词、查询向量化、语料描述批量词形还原、读取书籍向量
//  2. 查询与语料描述的 TF-IDF 余弦相似度
//  3. 查询向量与每本书预计算向量的余弦相似度
//  4. 按权重混合（某一项缺失记 0），降序取 PoolSize 本
//  5. 候选池按评分数降序重排，剔除用户已评分的书，截断到 Limit
//
// 外部服务失败或返回空时整条链路失败，不以零向量继续计算。
type HybridContent struct {
	Books      core.BookStore
	Reviews    core.ReviewStore
	Text       core.TextProcessor
	Embedder   core.Embedder
	Embeddings core.EmbeddingStore

	// CF 用于协同分，Weights.Collaborative > 0 时才会调用
	CF *UserBasedCF

	Weights Weights

	// PoolSize 混合分排序后的候选池大小，默认 20
	PoolSize int

	// Limit 返回数量，默认 10
	Limit int

	Scheme tfidf.Scheme

	// CorpusFilter 筛选参与计算的书籍，例如 book.ratings_count > 1000；nil 表示全部
	CorpusFilter *dsl.Program

	// Cache 可选的 idf 缓存，按描述语料版本失效
	Cache *tfidf.Cache
}

func (r *HybridContent) Name() string        { return "recall.content" }
func (r *HybridContent) Kind() pipeline.Kind { return pipeline.KindRecall }

// weights 返回生效的权重：未设置（零值）时使用 DefaultWeights。
// 由配置构建的节点会拒绝显式全 0 的权重。
func (r *HybridContent) weights() Weights {
	if r.Weights.IsZero() {
		return DefaultWeights
	}
	return r.Weights
}

func (r *HybridContent) poolSize() int {
	if r.PoolSize <= 0 {
		return 20
	}
	return r.PoolSize
}

func (r *HybridContent) limit() int {
	if r.Limit <= 0 {
		return 10
	}
	return r.Limit
}

// corpusBooks 返回通过 CorpusFilter 的书籍，按 ID 升序。
func (r *HybridContent) corpusBooks(ctx context.Context) ([]*core.Book, error) {
	books, err := r.Books.AllBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("recall.content: load books: %w", err)
	}
	if r.CorpusFilter == nil {
		return books, nil
	}
	out := make([]*core.Book, 0, len(books))
	for _, b := range books {
		ok, err := r.CorpusFilter.MatchBook(b)
		if err != nil {
			logging.Ctx(ctx).Warn().Int64("book_id", b.ID).Err(err).Msg("corpus filter failed, book skipped")
			continue
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// RecommendFor 返回与 query 最相关的书，排除 excludeUserID 评过分的书。
// 空查询返回 EMPTY_INPUT；分词或向量服务失败返回 UNAVAILABLE。
func (r *HybridContent) RecommendFor(ctx context.Context, query, excludeUserID string) ([]*core.Book, error) {
	items, err := r.Recommend(ctx, query, excludeUserID)
	if err != nil {
		return nil, err
	}
	return core.ItemsToBooks(items), nil
}

// Recommend 与 RecommendFor 相同，返回带分项分数（Features）的 Item。
func (r *HybridContent) Recommend(ctx context.Context, query, excludeUserID string) ([]*core.Item, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.ErrEmptyQuery
	}
	if r.Books == nil || r.Text == nil {
		return nil, fmt.Errorf("recall.content: missing book store or text processor")
	}
	w := r.weights()
	if w.Embedding > 0 {
		switch {
		case r.Embedder == nil:
			return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable,
				"embedding: no embedder configured")
		case r.Embeddings == nil:
			return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable,
				"embedding: no embedding store configured")
		}
	}
	log := logging.Ctx(ctx)

	books, err := r.corpusBooks(ctx)
	if err != nil {
		return nil, err
	}
	descriptions := make(map[int64]string, len(books))
	candidates := make(map[int64]*core.Book, len(books))
	for _, b := range books {
		candidates[b.ID] = b
		if strings.TrimSpace(b.Description) != "" {
			descriptions[b.ID] = b.Description
		}
	}

	var (
		queryTokens    []string
		queryEmbedding []float64
		corpus         tfidf.Corpus
		stored         map[int64][]float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tokens, err := r.Text.Tokenize(gctx, query)
		if err != nil {
			return core.WrapDomainError(core.ModuleText, core.ErrorCodeUnavailable, "text: tokenize query", err)
		}
		if len(tokens) == 0 {
			return core.ErrNoTokens
		}
		queryTokens = tokens
		return nil
	})
	g.Go(func() error {
		lemmas, err := r.Text.LemmatizeAll(gctx, descriptions)
		if err != nil {
			return core.WrapDomainError(core.ModuleText, core.ErrorCodeUnavailable, "text: lemmatize corpus", err)
		}
		corpus = make(tfidf.Corpus, len(lemmas))
		for id, tokens := range lemmas {
			if _, ok := candidates[id]; ok {
				corpus[id] = tokens
			}
		}
		return nil
	})
	if w.Embedding > 0 {
		g.Go(func() error {
			vec, err := r.Embedder.Embed(gctx, query)
			if err != nil {
				return core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable, "embedding: embed query", err)
			}
			if len(vec) == 0 {
				return core.ErrEmptyEmbedding
			}
			queryEmbedding = vec
			return nil
		})
		g.Go(func() error {
			all, err := r.Embeddings.BookEmbeddings(gctx)
			if err != nil {
				return err
			}
			stored = all
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("content recommendation aborted")
		return nil, err
	}

	// TF-IDF
	idx := tfidf.NewIndex(corpus, r.Scheme)
	idf := r.Cache.IDF(tfidf.CorpusVersion(corpus), idx.IDF)
	tfidfScores := idx.SimilarityToCorpus(idx.Vectorize(queryTokens, idf), idf)

	// 向量
	embScores := make(map[int64]float64, len(stored))
	for id, vec := range stored {
		if _, ok := candidates[id]; !ok {
			continue
		}
		embScores[id] = vecmath.CosineDense(queryEmbedding, vec)
	}

	// 协同分
	var cfScores map[int64]float64
	var ratings []core.Rating
	if r.Reviews != nil {
		ratings, err = r.Reviews.AllRatings(ctx)
		if err != nil {
			return nil, fmt.Errorf("recall.content: load ratings: %w", err)
		}
	}
	if w.Collaborative > 0 && r.CF != nil && excludeUserID != "" {
		cfScores = r.CF.CollaborativeScores(excludeUserID, ratings)
	}

	final := Blend(w, tfidfScores, embScores, cfScores)
	for id := range final {
		if _, ok := candidates[id]; !ok {
			delete(final, id)
		}
	}
	ranked := core.ScoreMapToSorted(final)
	if len(ranked) > r.poolSize() {
		ranked = ranked[:r.poolSize()]
	}

	// 候选池按评分数重排（稳定），剔除已评分
	pool := make([]*core.Item, 0, len(ranked))
	for _, sb := range ranked {
		it := core.NewBookItem(candidates[sb.BookID], sb.Score)
		it.Features["tfidf"] = tfidfScores[sb.BookID]
		it.Features["embedding"] = embScores[sb.BookID]
		if cfScores != nil {
			it.Features["cf"] = cfScores[sb.BookID]
		}
		it.PutLabel("recall_source", utils.Label{Value: r.Name(), Source: "recall"})
		pool = append(pool, it)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Book.RatingsCount > pool[j].Book.RatingsCount
	})

	rated := core.RatedBy(ratings, excludeUserID)
	out := make([]*core.Item, 0, r.limit())
	for _, it := range pool {
		if _, ok := rated[it.ID]; ok {
			continue
		}
		out = append(out, it)
		if len(out) == r.limit() {
			break
		}
	}
	return out, nil
}

// Blend 按权重混合多路分数，取 key 的并集，缺失项记 0。
func Blend(w Weights, tfidfScores, embScores, cfScores map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(tfidfScores)+len(embScores))
	for id := range tfidfScores {
		out[id] = 0
	}
	for id := range embScores {
		out[id] = 0
	}
	if w.Collaborative > 0 {
		for id := range cfScores {
			out[id] = 0
		}
	}
	for id := range out {
		out[id] = w.TFIDF*tfidfScores[id] + w.Embedding*embScores[id] + w.Collaborative*cfScores[id]
	}
	return out
}

// Process 实现 Node 接口，直接调用 Recall
func (r *HybridContent) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口，查询文本从 rctx.Params["query"] 读取。
func (r *HybridContent) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	if rctx == nil {
		return nil, nil
	}
	return r.Recommend(ctx, rctx.ParamString(core.ParamQuery), rctx.UserID)
}
