package core

import "context"

// BookStore 是书目的领域接口（外部协作者）。返回的是完整内存快照，不约定分页。
type BookStore interface {
	AllBooks(ctx context.Context) ([]*Book, error)

	// BookByID 不存在时返回 ErrBookNotFound
	BookByID(ctx context.Context, id int64) (*Book, error)

	// BooksByIDs 按 ids 顺序返回，未知 id 跳过
	BooksByIDs(ctx context.Context, ids []int64) ([]*Book, error)
}

// ReviewStore 是评分的领域接口（外部协作者）。
type ReviewStore interface {
	AllRatings(ctx context.Context) ([]Rating, error)
	UserRatings(ctx context.Context, userID string) ([]Rating, error)
}
