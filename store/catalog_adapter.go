package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/rushteam/bookrec/core"
)

// StoreCatalogAdapter 把任意 core.Store 适配为 core.BookStore 与 core.ReviewStore。
// 数据以 JSON 存储：
//
//	{KeyPrefix}:books          全部书籍 []Book
//	{KeyPrefix}:book:{id}      单本书籍 Book
//	{KeyPrefix}:ratings        全部评分 []Rating
//	{KeyPrefix}:user:{userID}  用户评分 []Rating
type StoreCatalogAdapter struct {
	store     core.Store
	KeyPrefix string
}

// NewStoreCatalogAdapter 创建适配器，keyPrefix 为空时使用 "catalog"。
func NewStoreCatalogAdapter(s core.Store, keyPrefix string) *StoreCatalogAdapter {
	if keyPrefix == "" {
		keyPrefix = "catalog"
	}
	return &StoreCatalogAdapter{store: s, KeyPrefix: keyPrefix}
}

var (
	_ core.BookStore   = (*StoreCatalogAdapter)(nil)
	_ core.ReviewStore = (*StoreCatalogAdapter)(nil)
)

func (a *StoreCatalogAdapter) booksKey() string { return a.KeyPrefix + ":books" }
func (a *StoreCatalogAdapter) bookKey(id int64) string {
	return a.KeyPrefix + ":book:" + strconv.FormatInt(id, 10)
}
func (a *StoreCatalogAdapter) ratingsKey() string           { return a.KeyPrefix + ":ratings" }
func (a *StoreCatalogAdapter) userKey(userID string) string { return a.KeyPrefix + ":user:" + userID }

// getJSON 读取并解码；key 不存在时返回 false。
func (a *StoreCatalogAdapter) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, core.WrapDomainError(core.ModuleStore, core.ErrorCodeMalformed,
			fmt.Sprintf("store: decode %s", key), err)
	}
	return true, nil
}

func (a *StoreCatalogAdapter) AllBooks(ctx context.Context) ([]*core.Book, error) {
	var books []*core.Book
	if _, err := a.getJSON(ctx, a.booksKey(), &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []*core.Book{}
	}
	return books, nil
}

func (a *StoreCatalogAdapter) BookByID(ctx context.Context, id int64) (*core.Book, error) {
	var b core.Book
	ok, err := a.getJSON(ctx, a.bookKey(id), &b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrBookNotFound
	}
	return &b, nil
}

// BooksByIDs 通过 BatchGet 读取，按 ids 顺序返回，未知或无法解码的 id 跳过。
func (a *StoreCatalogAdapter) BooksByIDs(ctx context.Context, ids []int64) ([]*core.Book, error) {
	if len(ids) == 0 {
		return []*core.Book{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = a.bookKey(id)
	}
	data, err := a.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Book, 0, len(ids))
	for _, k := range keys {
		raw, ok := data[k]
		if !ok {
			continue
		}
		var b core.Book
		if json.Unmarshal(raw, &b) != nil {
			continue
		}
		out = append(out, &b)
	}
	return out, nil
}

func (a *StoreCatalogAdapter) AllRatings(ctx context.Context) ([]core.Rating, error) {
	var ratings []core.Rating
	if _, err := a.getJSON(ctx, a.ratingsKey(), &ratings); err != nil {
		return nil, err
	}
	return ratings, nil
}

func (a *StoreCatalogAdapter) UserRatings(ctx context.Context, userID string) ([]core.Rating, error) {
	var ratings []core.Rating
	if _, err := a.getJSON(ctx, a.userKey(userID), &ratings); err != nil {
		return nil, err
	}
	if ratings == nil {
		ratings = []core.Rating{}
	}
	return ratings, nil
}

// Publish 把书目与评分快照写入 Store，覆盖旧快照。
func (a *StoreCatalogAdapter) Publish(ctx context.Context, books []*core.Book, ratings []core.Rating) error {
	kvs := make(map[string][]byte, len(books)+2)

	all, err := json.Marshal(books)
	if err != nil {
		return err
	}
	kvs[a.booksKey()] = all
	for _, b := range books {
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		kvs[a.bookKey(b.ID)] = raw
	}

	if ratings == nil {
		ratings = []core.Rating{}
	}
	raw, err := json.Marshal(ratings)
	if err != nil {
		return err
	}
	kvs[a.ratingsKey()] = raw

	byUser := make(map[string][]core.Rating)
	for _, r := range ratings {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	for userID, rs := range byUser {
		raw, err := json.Marshal(rs)
		if err != nil {
			return err
		}
		kvs[a.userKey(userID)] = raw
	}
	return a.store.BatchSet(ctx, kvs)
}
