package core

import (
	"strconv"

	"github.com/rushteam/bookrec/pkg/utils"
)

// 常用的请求参数 key。
const (
	ParamQuery  = "query"   // 自由文本查询（内容推荐）
	ParamBookID = "book_id" // 种子书籍（标签相似）
	ParamLimit  = "limit"
)

// RecommendContext 承载用户/场景/请求参数，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID string
	Scene  string // home / suggest / by_tag

	// Labels 是用户级标签，可驱动整个 Pipeline 行为
	// 例如：冷启动用户
	Labels map[string]utils.Label

	// Params 请求级参数：query、book_id、limit 等
	Params map[string]any
}

// PutLabel 写入用户级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取用户级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

// ParamString 读取字符串参数。
func (rctx *RecommendContext) ParamString(key string) string {
	if rctx == nil || rctx.Params == nil {
		return ""
	}
	s, _ := rctx.Params[key].(string)
	return s
}

// ParamInt64 读取整数参数，兼容 YAML/JSON 解析得到的 int、float64 与数字字符串。
func (rctx *RecommendContext) ParamInt64(key string) (int64, bool) {
	if rctx == nil || rctx.Params == nil {
		return 0, false
	}
	switch v := rctx.Params[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
