package rerank

import (
	"context"
	"strconv"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
)

// AuthorDiversity 限制同一作者在结果中出现的次数（保留先出现的）。
// 作者来源优先级：
// - Book.AuthorID
// - label[LabelKey].Value
// - meta[LabelKey] (string)
type AuthorDiversity struct {
	MaxPerAuthor int    // 默认 1
	LabelKey     string // 默认 "author"
}

func (n *AuthorDiversity) Name() string {
	return "rerank.author_diversity"
}

func (n *AuthorDiversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *AuthorDiversity) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}

	limit := n.MaxPerAuthor
	if limit <= 0 {
		limit = 1
	}
	key := n.LabelKey
	if key == "" {
		key = "author"
	}

	seen := make(map[string]int, 32)
	out := make([]*core.Item, 0, len(items))

	for _, it := range items {
		if it == nil {
			continue
		}
		author := authorOf(it, key)
		if author == "" {
			out = append(out, it)
			continue
		}
		if seen[author] >= limit {
			continue
		}
		seen[author]++
		out = append(out, it)
	}

	return out, nil
}

func authorOf(it *core.Item, key string) string {
	if it.Book != nil && it.Book.AuthorID != 0 {
		return strconv.FormatInt(it.Book.AuthorID, 10)
	}
	if it.Labels != nil {
		if lbl, ok := it.Labels[key]; ok && lbl.Value != "" {
			return lbl.Value
		}
	}
	if it.Meta != nil {
		if s, ok := it.Meta[key].(string); ok {
			return s
		}
	}
	return ""
}
