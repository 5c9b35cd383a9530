package filter

import (
	"context"

	"github.com/rushteam/bookrec/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉下架/屏蔽的书。
type BlacklistFilter struct {
	// BookIDs 是内存中的黑名单
	BookIDs []int64

	// Store 用于从存储中读取黑名单（可选）
	Store BlacklistStore

	// Key 是 Store 中的黑名单 key（可选）
	Key string
}

// BlacklistStore 是黑名单存储接口。
type BlacklistStore interface {
	GetBlacklist(ctx context.Context, key string) ([]int64, error)
}

// NewBlacklistFilter 创建一个黑名单过滤器。
func NewBlacklistFilter(bookIDs []int64, storeAdapter *StoreAdapter, key string) *BlacklistFilter {
	var store BlacklistStore
	if storeAdapter != nil {
		store = storeAdapter
	}
	return &BlacklistFilter{
		BookIDs: bookIDs,
		Store:   store,
		Key:     key,
	}
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

// Prepare 合并内存与存储中的黑名单，存储读取失败时只使用内存列表。
func (f *BlacklistFilter) Prepare(ctx context.Context, _ *core.RecommendContext) (Filter, error) {
	set := newIDSet(f.Name(), f.BookIDs)
	if f.Store != nil && f.Key != "" {
		if ids, err := f.Store.GetBlacklist(ctx, f.Key); err == nil {
			set.add(ids)
		}
	}
	return set, nil
}

func (f *BlacklistFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}
	set, err := f.Prepare(ctx, rctx)
	if err != nil {
		return false, err
	}
	return set.ShouldFilter(ctx, rctx, item)
}

// idSet 是按书籍 ID 过滤的请求级 Filter。
type idSet struct {
	name string
	ids  map[int64]struct{}
}

func newIDSet(name string, ids []int64) *idSet {
	s := &idSet{name: name, ids: make(map[int64]struct{}, len(ids))}
	s.add(ids)
	return s
}

func (s *idSet) add(ids []int64) {
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

func (s *idSet) Name() string { return s.name }

func (s *idSet) ShouldFilter(_ context.Context, _ *core.RecommendContext, item *core.Item) (bool, error) {
	if item == nil {
		return true, nil
	}
	_, ok := s.ids[item.ID]
	return ok, nil
}
