package core

import "github.com/rushteam/bookrec/pkg/utils"

// Item 是推荐链路中的统一承载结构：书籍 ID、分数、元信息、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策。
// Book 在召回阶段即被填充，后续 Filter/ReRank 无需再次查询书库。
type Item struct {
	ID       int64
	Score    float64
	Book     *Book
	Features map[string]float64
	Meta     map[string]any
	Labels   map[string]utils.Label
}

func NewItem(id int64) *Item {
	return &Item{
		ID:       id,
		Score:    0,
		Features: make(map[string]float64),
		Meta:     make(map[string]any),
		Labels:   make(map[string]utils.Label),
	}
}

// NewBookItem 以 Book 构建 Item。
func NewBookItem(b *Book, score float64) *Item {
	it := NewItem(b.ID)
	it.Book = b
	it.Score = score
	return it
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// ItemsToBooks 取出 Items 中已填充的 Book，保持顺序。
func ItemsToBooks(items []*Item) []*Book {
	out := make([]*Book, 0, len(items))
	for _, it := range items {
		if it == nil || it.Book == nil {
			continue
		}
		out = append(out, it.Book)
	}
	return out
}
