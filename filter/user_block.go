package filter

import (
	"context"

	"github.com/rushteam/bookrec/core"
)

// UserBlockFilter 是用户屏蔽过滤器，过滤掉用户标记为不感兴趣的书。
type UserBlockFilter struct {
	// Store 用于从存储中读取用户屏蔽列表
	Store UserBlockStore

	// KeyPrefix 是 Store 中的 key 前缀，实际 key 为 {KeyPrefix}:{UserID}
	KeyPrefix string
}

// UserBlockStore 是用户屏蔽存储接口。
type UserBlockStore interface {
	GetUserBlocks(ctx context.Context, userID string, keyPrefix string) ([]int64, error)
}

// NewUserBlockFilter 创建一个用户屏蔽过滤器。
func NewUserBlockFilter(storeAdapter *StoreAdapter, keyPrefix string) *UserBlockFilter {
	var store UserBlockStore
	if storeAdapter != nil {
		store = storeAdapter
	}
	return &UserBlockFilter{
		Store:     store,
		KeyPrefix: keyPrefix,
	}
}

func (f *UserBlockFilter) Name() string {
	return "filter.user_block"
}

func (f *UserBlockFilter) keyPrefix() string {
	if f.KeyPrefix == "" {
		return "user:block"
	}
	return f.KeyPrefix
}

// Prepare 读取一次用户屏蔽列表。没有用户或读取失败时不过滤。
func (f *UserBlockFilter) Prepare(ctx context.Context, rctx *core.RecommendContext) (Filter, error) {
	set := newIDSet(f.Name(), nil)
	if f.Store == nil || rctx == nil || rctx.UserID == "" {
		return set, nil
	}
	if ids, err := f.Store.GetUserBlocks(ctx, rctx.UserID, f.keyPrefix()); err == nil {
		set.add(ids)
	}
	return set, nil
}

func (f *UserBlockFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return false, nil
	}
	set, err := f.Prepare(ctx, rctx)
	if err != nil {
		return false, err
	}
	return set.ShouldFilter(ctx, rctx, item)
}
