package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rushteam/bookrec/config"
	"github.com/rushteam/bookrec/config/builders"
	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/feast"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/pkg/dsl"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/recall"
	"github.com/rushteam/bookrec/store"
	"github.com/rushteam/bookrec/textproc"
	"github.com/rushteam/bookrec/tfidf"
)

// Deps 是 Engine 的外部协作者。
type Deps struct {
	Books   core.BookStore
	Reviews core.ReviewStore

	// Catalog 非空时同时作为 Books/Reviews 的缺省值，并支持标题搜索
	Catalog *store.Catalog

	Text       core.TextProcessor
	Embedder   core.Embedder
	Embeddings core.EmbeddingStore

	// Store 用于热门榜缓存、黑名单等（可选）
	Store core.KeyValueStore

	Metrics *metrics.Metrics
}

// New 按配置与依赖构建 Engine，不做任何 I/O。
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Catalog != nil {
		if deps.Books == nil {
			deps.Books = deps.Catalog
		}
		if deps.Reviews == nil {
			deps.Reviews = deps.Catalog
		}
	}
	if deps.Books == nil || deps.Reviews == nil {
		return nil, errors.New("recommend: book and review stores are required")
	}
	if deps.Text == nil {
		deps.Text = textproc.NewLocal()
	}

	// 描述语料与标签语料版本不同，各自持有缓存
	contentCache, tagCache := tfidf.NewCache(), tfidf.NewCache()
	cf := &recall.UserBasedCF{
		Books:          deps.Books,
		Reviews:        deps.Reviews,
		MinCommonItems: cfg.CF.MinCommonItems,
		MinRating:      cfg.CF.MinRating,
		Limit:          cfg.CF.Limit,
	}
	content := &recall.HybridContent{
		Books:      deps.Books,
		Reviews:    deps.Reviews,
		Text:       deps.Text,
		Embedder:   deps.Embedder,
		Embeddings: deps.Embeddings,
		CF:         cf,
		Weights:    cfg.Content.Weights,
		PoolSize:   cfg.Content.PoolSize,
		Limit:      cfg.Content.Limit,
		Scheme:     tfidf.ParseScheme(cfg.Content.TFScheme),
		Cache:      contentCache,
	}
	if cfg.Content.CorpusFilter != "" {
		prog, err := dsl.Compile(cfg.Content.CorpusFilter)
		if err != nil {
			return nil, fmt.Errorf("recommend: content corpus_filter: %w", err)
		}
		content.CorpusFilter = prog
	}

	return &Engine{
		Books:   deps.Books,
		Reviews: deps.Reviews,
		CF:      cf,
		Content: content,
		Tags: &recall.TagSimilarity{
			Books:  deps.Books,
			TopN:   cfg.Tag.TopN,
			Scheme: tfidf.ParseScheme(cfg.Tag.TFScheme),
			Cache:  tagCache,
		},
		Popular: &recall.Hot{
			Books:   deps.Books,
			Reviews: deps.Reviews,
			Store:   deps.Store,
			Key:     cfg.Popular.Key,
			Limit:   cfg.Popular.Limit,
		},
		Catalog:           deps.Catalog,
		ColdUserThreshold: cfg.Home.ColdUserThreshold,
		Metrics:           deps.Metrics,
	}, nil
}

// Open 按配置装配全部依赖：加载书目快照，连接 Redis、Feast 与文本服务，
// 并在配置了 pipeline 时构建自定义链路。返回的 close 释放外部连接。
func Open(ctx context.Context, cfg Config, m *metrics.Metrics) (*Engine, func() error, error) {
	log := logging.Ctx(ctx)
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Engine, func() error, error) {
		_ = closeAll()
		return nil, nil, err
	}

	deps := Deps{Metrics: m}

	if cfg.Redis.Addr != "" {
		rs, err := store.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, rs.Close)
		deps.Store = rs
	}

	switch {
	case cfg.Catalog != "":
		cat, err := store.LoadCatalogYAML(cfg.Catalog)
		if err != nil {
			return fail(err)
		}
		deps.Catalog = cat
		log.Info().Str("path", cfg.Catalog).Int("books", cat.Len()).Msg("catalog loaded")
	case deps.Store != nil:
		adapter := store.NewStoreCatalogAdapter(deps.Store, "")
		deps.Books, deps.Reviews = adapter, adapter
	default:
		return fail(errors.New("recommend: either catalog or redis must be configured"))
	}

	if cfg.Text.Endpoint != "" {
		client := textproc.NewHTTPClient(cfg.Text, nil)
		client.Metrics = m
		deps.Text, deps.Embedder = client, client
	} else {
		deps.Text = textproc.NewLocal()
		disableEmbedding(&cfg, "no text service configured")
	}

	books := deps.Books
	if books == nil {
		books = deps.Catalog
	}
	switch {
	case cfg.Feast.Enabled():
		client, err := feast.NewGrpcClient(cfg.Feast)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		es := feast.NewEmbeddingStore(client, books, cfg.Feast)
		es.Metrics = m
		deps.Embeddings = es
	case deps.Store != nil:
		es := store.NewStoreEmbeddingAdapter(deps.Store, cfg.EmbeddingKey)
		es.Metrics = m
		deps.Embeddings = es
	default:
		disableEmbedding(&cfg, "no embedding store configured (redis or feast)")
	}

	engine, err := New(cfg, deps)
	if err != nil {
		return fail(err)
	}

	if cfg.Pipeline != "" {
		builders.Register(&builders.Env{
			Books:        engine.Books,
			Reviews:      engine.Reviews,
			Text:         deps.Text,
			Embedder:     deps.Embedder,
			Embeddings:   deps.Embeddings,
			Store:        deps.Store,
			ContentCache: engine.Content.Cache,
			TagCache:     engine.Tags.Cache,
		})
		pcfg, err := pipeline.LoadFromYAML(cfg.Pipeline)
		if err != nil {
			return fail(fmt.Errorf("recommend: load pipeline: %w", err))
		}
		if err := config.ValidatePipelineConfig(pcfg); err != nil {
			return fail(err)
		}
		p, err := pcfg.BuildPipeline(config.DefaultFactory())
		if err != nil {
			return fail(err)
		}
		engine.Pipeline = p
	}

	return engine, closeAll, nil
}

// disableEmbedding 在缺少向量能力时把向量权重置 0，内容推荐只用 TF-IDF（与协同分）。
func disableEmbedding(cfg *Config, reason string) {
	w := &cfg.Content.Weights
	if w.Embedding <= 0 {
		return
	}
	logging.L().Warn().Str("reason", reason).Float64("embedding_weight", w.Embedding).
		Msg("embedding disabled, content recommendations use tf-idf only")
	w.Embedding = 0
	if w.TFIDF == 0 {
		w.TFIDF = 1
	}
}
