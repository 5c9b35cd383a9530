package rerank

import (
	"context"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pipeline"
)

// TopNNode 是 Top-N 截断节点，放在 Pipeline 末尾控制返回数量。
//
//	p := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &recall.Fanout{...},
//	        &filter.FilterNode{...},
//	        &rerank.RatingsCount{},
//	        &rerank.TopNNode{N: 10},
//	    },
//	}
type TopNNode struct {
	// N <= 0 时不截断
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	limit := n.N
	// 请求参数 limit 优先于节点配置
	if v, ok := rctx.ParamInt64(core.ParamLimit); ok && v > 0 {
		limit = int(v)
	}
	if limit <= 0 || limit >= len(items) {
		return items, nil
	}
	return items[:limit], nil
}
