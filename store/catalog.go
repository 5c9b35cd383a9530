package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/bookrec/core"
)

// Catalog 是内存书目 + 评分快照，同时实现 core.BookStore 与 core.ReviewStore。
// 读操作返回快照拷贝，写操作（AddRating）对后续请求可见。
type Catalog struct {
	mu      sync.RWMutex
	books   map[int64]*core.Book
	ids     []int64 // 升序
	ratings []core.Rating

	// derived 记录 RatingsCount 由评分推导的书，新增评分时同步更新
	derived map[int64]bool
}

var (
	_ core.BookStore   = (*Catalog)(nil)
	_ core.ReviewStore = (*Catalog)(nil)
)

// NewCatalog 构建书目。RatingsCount 为 0 的书按评分数推导。
func NewCatalog(books []*core.Book, ratings []core.Rating) *Catalog {
	c := &Catalog{
		books:   make(map[int64]*core.Book, len(books)),
		derived: make(map[int64]bool),
	}
	for _, b := range books {
		if b == nil {
			continue
		}
		cp := *b
		c.books[b.ID] = &cp
		if cp.RatingsCount == 0 {
			c.derived[b.ID] = true
		}
	}
	c.ids = make([]int64, 0, len(c.books))
	for id := range c.books {
		c.ids = append(c.ids, id)
	}
	sort.Slice(c.ids, func(i, j int) bool { return c.ids[i] < c.ids[j] })

	c.ratings = append([]core.Rating(nil), ratings...)
	for _, r := range c.ratings {
		if b, ok := c.books[r.BookID]; ok && c.derived[r.BookID] {
			b.RatingsCount++
		}
	}
	return c
}

// catalogFile 是 YAML 快照文件格式。
type catalogFile struct {
	Books   []*core.Book  `yaml:"books"`
	Ratings []core.Rating `yaml:"ratings"`
}

// LoadCatalogYAML 从 YAML 文件加载书目快照。
//
//	books:
//	  - {id: 1, title: Dune, author_id: 1, tags: [scifi, desert]}
//	ratings:
//	  - {user_id: alice, book_id: 1, value: 5}
func LoadCatalogYAML(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalogYAML(data)
}

// ParseCatalogYAML 解析 YAML 书目快照。评分值必须在 1-5 之间。
func ParseCatalogYAML(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	for i, r := range f.Ratings {
		if err := validateRating(r); err != nil {
			return nil, fmt.Errorf("rating #%d: %w", i, err)
		}
	}
	return NewCatalog(f.Books, f.Ratings), nil
}

func validateRating(r core.Rating) error {
	if r.UserID == "" {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput, "store: rating without user")
	}
	if r.Value < 1 || r.Value > 5 {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeInvalidInput,
			fmt.Sprintf("store: rating value %d out of range 1-5", r.Value))
	}
	return nil
}

func (c *Catalog) AllBooks(_ context.Context) ([]*core.Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*core.Book, 0, len(c.ids))
	for _, id := range c.ids {
		cp := *c.books[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (c *Catalog) BookByID(_ context.Context, id int64) (*core.Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, ok := c.books[id]
	if !ok {
		return nil, core.ErrBookNotFound
	}
	cp := *b
	return &cp, nil
}

// BooksByIDs 按 ids 顺序返回，未知 id 跳过。
func (c *Catalog) BooksByIDs(_ context.Context, ids []int64) ([]*core.Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*core.Book, 0, len(ids))
	for _, id := range ids {
		if b, ok := c.books[id]; ok {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *Catalog) AllRatings(_ context.Context) ([]core.Rating, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Rating(nil), c.ratings...), nil
}

func (c *Catalog) UserRatings(_ context.Context, userID string) ([]core.Rating, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]core.Rating, 0)
	for _, r := range c.ratings {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// AddRating 追加一条评分。同一用户对同一本书重复评分时覆盖旧值。
func (c *Catalog) AddRating(_ context.Context, r core.Rating) error {
	if err := validateRating(r); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, old := range c.ratings {
		if old.UserID == r.UserID && old.BookID == r.BookID {
			c.ratings[i] = r
			return nil
		}
	}
	c.ratings = append(c.ratings, r)
	if b, ok := c.books[r.BookID]; ok && c.derived[r.BookID] {
		b.RatingsCount++
	}
	return nil
}

// SearchTitle 按标题做大小写不敏感的子串匹配，结果按 ID 升序。空查询返回空。
func (c *Catalog) SearchTitle(query string) []*core.Book {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]*core.Book, 0)
	if q == "" {
		return out
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.ids {
		b := c.books[id]
		if strings.Contains(strings.ToLower(b.Title), q) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out
}

// Len 返回书目数量。
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
