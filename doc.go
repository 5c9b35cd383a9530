// Package bookrec 是一个混合图书推荐引擎。
//
// 设计要点：
// - 推荐器即 Node：协同过滤、内容（TF-IDF + 向量）、标签相似、热门榜均可单独调用，也可用 YAML 串成 Pipeline
// - 失败显式化：文本服务或向量存储不可用时返回带原因的失败结果，不退化为空列表
// - 外部依赖可替换：书目快照/Redis、本地分词/文本服务、Redis/Feast 向量
package bookrec

import (
	"github.com/rushteam/bookrec/pipeline"
	"github.com/rushteam/bookrec/recommend"
)

// 轻量 facade：便于直接 import "bookrec" 使用引擎与核心抽象。
type (
	Engine   = recommend.Engine
	Config   = recommend.Config
	Deps     = recommend.Deps
	Pipeline = pipeline.Pipeline
	Node     = pipeline.Node
	Kind     = pipeline.Kind
)

const (
	KindRecall      = pipeline.KindRecall
	KindFilter      = pipeline.KindFilter
	KindRank        = pipeline.KindRank
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess
)

var (
	// Open 按配置装配 Engine，见 recommend.Open
	Open = recommend.Open

	// New 用已有依赖构建 Engine，不做 I/O
	New = recommend.New

	DefaultConfig = recommend.DefaultConfig
	LoadConfig    = recommend.LoadConfig
)
