// Package builders 把 bookrec 的召回/过滤/重排节点注册到 config 注册表，供 YAML Pipeline 使用。
//
//	builders.Register(&builders.Env{Books: cat, Reviews: cat, Text: textproc.NewLocal()})
//	cfg, _ := pipeline.LoadFromYAML("pipeline.yaml")
//	p, _ := cfg.BuildPipeline(config.DefaultFactory())
package builders

import (
	"fmt"
	"time"

	"github.com/rushteam/bookrec/config"
	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/filter"
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/pkg/conv"
	"github.com/rushteam/bookrec/pkg/dsl"
	"github.com/rushteam/bookrec/recall"
	"github.com/rushteam/bookrec/rerank"
	"github.com/rushteam/bookrec/tfidf"
)

// Env 是节点构建所需的外部协作者，配置里只描述参数，不描述依赖。
type Env struct {
	Books      core.BookStore
	Reviews    core.ReviewStore
	Text       core.TextProcessor
	Embedder   core.Embedder
	Embeddings core.EmbeddingStore

	// Store 用于热门榜缓存、黑名单与用户屏蔽列表（可选）
	Store core.KeyValueStore

	// ContentCache/TagCache 分别在由配置构建的内容、标签节点间共享
	ContentCache *tfidf.Cache
	TagCache     *tfidf.Cache
}

// Register 将内置 Node 类型注册到 config 注册表。
func Register(env *Env) {
	if env == nil {
		env = &Env{}
	}
	config.Register("recall.cf", env.BuildCFNode)
	config.Register("recall.content", env.BuildContentNode)
	config.Register("recall.tag", env.BuildTagNode)
	config.Register("recall.hot", env.BuildHotNode)
	config.Register("recall.user_history", env.BuildUserHistoryNode)
	config.Register("recall.fanout", env.BuildFanoutNode)
	config.Register("filter", env.BuildFilterNode)
	config.Register("rerank.topn", BuildTopNNode)
	config.Register("rerank.ratings_count", BuildRatingsCountNode)
	config.Register("rerank.author_diversity", BuildAuthorDiversityNode)
}

func (e *Env) cf(cfg map[string]interface{}) *recall.UserBasedCF {
	return &recall.UserBasedCF{
		Books:          e.Books,
		Reviews:        e.Reviews,
		MinCommonItems: int(conv.ConfigGetInt64(cfg, "min_common_items", 0)),
		MinRating:      int(conv.ConfigGetInt64(cfg, "min_rating", 0)),
		Limit:          int(conv.ConfigGetInt64(cfg, "limit", 0)),
	}
}

func (e *Env) BuildCFNode(cfg map[string]interface{}) (pipeline.Node, error) {
	if e.Books == nil || e.Reviews == nil {
		return nil, fmt.Errorf("recall.cf: books and reviews are required")
	}
	return e.cf(cfg), nil
}

func (e *Env) content(cfg map[string]interface{}) (*recall.HybridContent, error) {
	if e.Books == nil || e.Text == nil {
		return nil, fmt.Errorf("recall.content: books and text processor are required")
	}
	n := &recall.HybridContent{
		Books:      e.Books,
		Reviews:    e.Reviews,
		Text:       e.Text,
		Embedder:   e.Embedder,
		Embeddings: e.Embeddings,
		PoolSize:   int(conv.ConfigGetInt64(cfg, "pool_size", 0)),
		Limit:      int(conv.ConfigGetInt64(cfg, "limit", 0)),
		Scheme:     tfidf.ParseScheme(conv.ConfigGet(cfg, "tf_scheme", "")),
		Cache:      e.ContentCache,
	}
	if w, ok := cfg["weights"].(map[string]interface{}); ok {
		n.Weights = recall.Weights{
			TFIDF:         conv.ConfigGetFloat64(w, "tfidf", 0),
			Embedding:     conv.ConfigGetFloat64(w, "embedding", 0),
			Collaborative: conv.ConfigGetFloat64(w, "collaborative", 0),
		}
		if n.Weights.IsZero() {
			return nil, fmt.Errorf("recall.content: at least one weight must be positive")
		}
	}
	if n.Weights.Collaborative > 0 {
		if e.Reviews == nil {
			return nil, fmt.Errorf("recall.content: collaborative weight needs reviews")
		}
		n.CF = e.cf(nil)
	}
	if expr := conv.ConfigGet(cfg, "corpus_filter", ""); expr != "" {
		prog, err := dsl.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("recall.content: corpus_filter: %w", err)
		}
		n.CorpusFilter = prog
	}
	return n, nil
}

func (e *Env) BuildContentNode(cfg map[string]interface{}) (pipeline.Node, error) {
	n, err := e.content(cfg)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (e *Env) tag(cfg map[string]interface{}) (*recall.TagSimilarity, error) {
	if e.Books == nil {
		return nil, fmt.Errorf("recall.tag: books are required")
	}
	return &recall.TagSimilarity{
		Books:  e.Books,
		TopN:   int(conv.ConfigGetInt64(cfg, "top_n", 0)),
		Scheme: tfidf.ParseScheme(conv.ConfigGet(cfg, "tf_scheme", "")),
		Cache:  e.TagCache,
	}, nil
}

func (e *Env) BuildTagNode(cfg map[string]interface{}) (pipeline.Node, error) {
	n, err := e.tag(cfg)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (e *Env) hot(cfg map[string]interface{}) (*recall.Hot, error) {
	if e.Books == nil {
		return nil, fmt.Errorf("recall.hot: books are required")
	}
	h := &recall.Hot{
		Books:   e.Books,
		Reviews: e.Reviews,
		Store:   e.Store,
		Key:     conv.ConfigGet(cfg, "key", ""),
		Limit:   int(conv.ConfigGetInt64(cfg, "limit", 0)),
	}
	// offline: true 时只读缓存的热门榜，Reviews 仅用于排除用户已评分的书
	h.Offline = conv.ConfigGet(cfg, "offline", false)
	if h.Offline && e.Store == nil {
		return nil, fmt.Errorf("recall.hot: offline mode needs a store")
	}
	return h, nil
}

func (e *Env) BuildHotNode(cfg map[string]interface{}) (pipeline.Node, error) {
	n, err := e.hot(cfg)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (e *Env) userHistory(cfg map[string]interface{}) (*recall.UserHistory, error) {
	if e.Books == nil || e.Reviews == nil {
		return nil, fmt.Errorf("recall.user_history: books and reviews are required")
	}
	return &recall.UserHistory{
		Books:     e.Books,
		Reviews:   e.Reviews,
		MinRating: int(conv.ConfigGetInt64(cfg, "min_rating", 0)),
		TopK:      int(conv.ConfigGetInt64(cfg, "top_k", 0)),
	}, nil
}

func (e *Env) BuildUserHistoryNode(cfg map[string]interface{}) (pipeline.Node, error) {
	n, err := e.userHistory(cfg)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// BuildFanoutNode 构建多路召回，sources 中每项的 type 为 cf / content / tag / hot / user_history。
func (e *Env) BuildFanoutNode(cfg map[string]interface{}) (pipeline.Node, error) {
	sourcesConfig, ok := cfg["sources"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("sources not found or invalid")
	}
	sources := make([]recall.Source, 0, len(sourcesConfig))
	for _, sc := range sourcesConfig {
		sourceMap, ok := sc.(map[string]interface{})
		if !ok {
			continue
		}
		var (
			src recall.Source
			err error
		)
		switch sourceType := conv.ConfigGet(sourceMap, "type", ""); sourceType {
		case "cf":
			if e.Books == nil || e.Reviews == nil {
				return nil, fmt.Errorf("recall.cf: books and reviews are required")
			}
			src = e.cf(sourceMap)
		case "content":
			var n *recall.HybridContent
			if n, err = e.content(sourceMap); err == nil {
				src = n
			}
		case "tag":
			var n *recall.TagSimilarity
			if n, err = e.tag(sourceMap); err == nil {
				src = n
			}
		case "hot":
			var n *recall.Hot
			if n, err = e.hot(sourceMap); err == nil {
				src = n
			}
		case "user_history":
			var n *recall.UserHistory
			if n, err = e.userHistory(sourceMap); err == nil {
				src = n
			}
		default:
			return nil, fmt.Errorf("unknown source type: %s", sourceType)
		}
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	fanout := &recall.Fanout{
		Sources:       sources,
		Dedup:         conv.ConfigGet(cfg, "dedup", true),
		MergeStrategy: conv.ConfigGet(cfg, "merge_strategy", "priority"),
	}
	if ms := conv.ConfigGetInt64(cfg, "timeout_ms", 0); ms > 0 {
		fanout.Timeout = time.Duration(ms) * time.Millisecond
	}
	if n := conv.ConfigGetInt64(cfg, "max_concurrent", 0); n > 0 {
		fanout.MaxConcurrent = int(n)
	}
	return fanout, nil
}

// BuildFilterNode 构建过滤节点，filters 中每项的 type 为 rated / blacklist / user_block / expr。
func (e *Env) BuildFilterNode(cfg map[string]interface{}) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	var adapter *filter.StoreAdapter
	if e.Store != nil {
		adapter = filter.NewStoreAdapter(e.Store)
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		filterMap, ok := fc.(map[string]interface{})
		if !ok {
			continue
		}
		switch filterType := conv.ConfigGet(filterMap, "type", ""); filterType {
		case "rated":
			if e.Reviews == nil {
				return nil, fmt.Errorf("filter rated: reviews are required")
			}
			filters = append(filters, &filter.RatedFilter{Reviews: e.Reviews})
		case "blacklist":
			ids := conv.SliceAnyToInt64(filterMap["book_ids"])
			key := conv.ConfigGet(filterMap, "key", "")
			filters = append(filters, filter.NewBlacklistFilter(ids, adapter, key))
		case "user_block":
			keyPrefix := conv.ConfigGet(filterMap, "key_prefix", "")
			filters = append(filters, filter.NewUserBlockFilter(adapter, keyPrefix))
		case "expr":
			f, err := filter.NewExprFilter(conv.ConfigGet(filterMap, "expr", ""))
			if err != nil {
				return nil, fmt.Errorf("filter expr: %w", err)
			}
			filters = append(filters, f)
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
	}
	return &filter.FilterNode{Filters: filters}, nil
}

func BuildTopNNode(cfg map[string]interface{}) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", 0))}, nil
}

func BuildRatingsCountNode(map[string]interface{}) (pipeline.Node, error) {
	return &rerank.RatingsCount{}, nil
}

func BuildAuthorDiversityNode(cfg map[string]interface{}) (pipeline.Node, error) {
	return &rerank.AuthorDiversity{
		MaxPerAuthor: int(conv.ConfigGetInt64(cfg, "max_per_author", 1)),
		LabelKey:     conv.ConfigGet(cfg, "label_key", ""),
	}, nil
}
