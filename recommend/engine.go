// Package recommend 是 bookrec 的门面：组合协同过滤、内容推荐、标签相似与热门榜，
// 提供首页、搜索建议、相似书籍等页面级接口。
package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/recall"
	"github.com/rushteam/bookrec/store"
)

// 指标中的 recommender 标签值。
const (
	recHome    = "home"
	recSuggest = "content"
	recByTag   = "tag"
	recPopular = "popular"
	recRun     = "pipeline"
)

// Engine 组合各推荐器。所有字段在构造后只读，可并发使用。
type Engine struct {
	Books   core.BookStore
	Reviews core.ReviewStore

	CF      *recall.UserBasedCF
	Content *recall.HybridContent
	Tags    *recall.TagSimilarity
	Popular *recall.Hot

	// Catalog 用于标题搜索（可选）
	Catalog *store.Catalog

	// Pipeline 是配置驱动的自定义推荐链路（可选）
	Pipeline *pipeline.Pipeline

	ColdUserThreshold int

	Metrics *metrics.Metrics
}

// HomeFeed 是首页数据。
type HomeFeed struct {
	UserID string `json:"user_id"`

	// Popular 总是返回，不含用户评过分的书
	Popular []*core.Book `json:"popular"`

	// Suggested 是协同推荐，冷启动用户为空
	Suggested []*core.Book `json:"suggested"`

	// ColdUser 表示用户评分数不足，未计算协同推荐
	ColdUser bool `json:"cold_user"`
}

// TagPage 是按标签浏览页数据。
type TagPage struct {
	Book    *core.Book   `json:"book"`
	Similar []*core.Book `json:"similar"`

	// Rated 是当前用户已评分的书：bookID -> rating
	Rated map[int64]int `json:"rated"`
}

func (e *Engine) observe(name string, status core.Status, start time.Time) {
	e.Metrics.ObserveRequest(name, status, time.Since(start))
}

func statusOf(err error) core.Status {
	return core.ResultFromError(err).Status
}

// Home 返回首页：热门书籍总是展示；用户评分数达到阈值时附加协同推荐。
func (e *Engine) Home(ctx context.Context, userID string) (feed *HomeFeed, err error) {
	ctx = logging.WithRequestID(ctx)
	start := time.Now()
	defer func() { e.observe(recHome, statusOf(err), start) }()
	log := logging.Ctx(ctx).With().Str("user_id", userID).Logger()

	feed = &HomeFeed{UserID: userID, Popular: []*core.Book{}, Suggested: []*core.Book{}}

	var ratings []core.Rating
	if userID != "" {
		ratings, err = e.Reviews.UserRatings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("home: load user ratings: %w", err)
		}
	}
	feed.ColdUser = len(ratings) < e.ColdUserThreshold

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := e.Popular.Popular(gctx, userID)
		if err != nil {
			return err
		}
		feed.Popular = core.ItemsToBooks(items)
		return nil
	})
	if !feed.ColdUser {
		g.Go(func() error {
			books, err := e.CF.SuggestionsFor(gctx, userID)
			if err != nil {
				return err
			}
			feed.Suggested = books
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		log.Error().Err(err).Msg("home feed failed")
		return nil, err
	}

	if feed.ColdUser {
		log.Debug().Int("ratings", len(ratings)).Msg("cold user, collaborative suggestions skipped")
	}
	log.Info().Int("popular", len(feed.Popular)).Int("suggested", len(feed.Suggested)).Msg("home feed")
	return feed, nil
}

// Suggest 根据自由文本返回内容推荐。失败以 StatusFailed 与原因返回，不会退化为空列表。
func (e *Engine) Suggest(ctx context.Context, query, userID string) core.Result {
	ctx = logging.WithRequestID(ctx)
	start := time.Now()
	log := logging.Ctx(ctx).With().Str("user_id", userID).Logger()

	books, err := e.Content.RecommendFor(ctx, query, userID)
	res := core.OK(books)
	if err != nil {
		res = core.ResultFromError(err)
		if res.Failed() {
			log.Error().Err(err).Msg("content suggestion failed")
		}
	}
	e.observe(recSuggest, res.Status, start)
	log.Info().Str("status", string(res.Status)).Int("books", len(res.Books)).Msg("suggest")
	return res
}

// ByTag 返回指定书籍、与其标签相似的书，以及当前用户的评分。
// 书籍不存在时返回 core.ErrBookNotFound。
func (e *Engine) ByTag(ctx context.Context, userID string, bookID int64) (page *TagPage, err error) {
	ctx = logging.WithRequestID(ctx)
	start := time.Now()
	defer func() { e.observe(recByTag, statusOf(err), start) }()

	book, err := e.Books.BookByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	similar, err := e.Tags.SimilarBooks(ctx, bookID)
	if err != nil {
		return nil, err
	}
	page = &TagPage{Book: book, Similar: similar, Rated: map[int64]int{}}
	if userID != "" {
		ratings, err := e.Reviews.UserRatings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("by tag: load user ratings: %w", err)
		}
		for _, r := range ratings {
			page.Rated[r.BookID] = r.Value
		}
	}
	return page, nil
}

// PopularFor 返回 userID 的热门书籍（排除其评过分的书）。
func (e *Engine) PopularFor(ctx context.Context, userID string) (books []*core.Book, err error) {
	ctx = logging.WithRequestID(ctx)
	start := time.Now()
	defer func() { e.observe(recPopular, statusOf(err), start) }()

	items, err := e.Popular.Popular(ctx, userID)
	if err != nil {
		return nil, err
	}
	return core.ItemsToBooks(items), nil
}

// PublishPopular 计算全站热门榜并写入 kv，供只读缓存的 recall.Hot 使用。
func (e *Engine) PublishPopular(ctx context.Context, kv core.KeyValueStore, key string, limit int) ([]int64, error) {
	ratings, err := e.Reviews.AllRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("publish popular: load ratings: %w", err)
	}
	ids := core.BookIDs(e.Popular.MostPopular(ratings, "", limit))
	if err := store.PublishPopular(ctx, kv, key, ids); err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("key", key).Int("books", len(ids)).Msg("popular list published")
	return ids, nil
}

// Search 按标题搜索（大小写不敏感子串）。
func (e *Engine) Search(title string) []*core.Book {
	if e.Catalog == nil {
		return []*core.Book{}
	}
	return e.Catalog.SearchTitle(title)
}

// ErrNoPipeline 表示未配置自定义 Pipeline。
var ErrNoPipeline = errors.New("recommend: no pipeline configured")

// Run 执行配置驱动的 Pipeline。
func (e *Engine) Run(ctx context.Context, rctx *core.RecommendContext) (books []*core.Book, err error) {
	if e.Pipeline == nil {
		return nil, ErrNoPipeline
	}
	ctx = logging.WithRequestID(ctx)
	start := time.Now()
	defer func() { e.observe(recRun, statusOf(err), start) }()

	items, err := e.Pipeline.Run(ctx, rctx, nil)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("scene", rctx.Scene).Msg("pipeline failed")
		return nil, err
	}
	return core.ItemsToBooks(items), nil
}
