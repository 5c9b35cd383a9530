package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/bookrec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("book", cel.DynType),
		cel.Variable("item", cel.DynType),
		cel.Variable("label", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Program 是编译后的书籍表达式，编译一次、并发求值。
//
// 表达式语法（CEL 标准语法）：
//   - 书籍：book.ratings_count > 1000 / "scifi" in book.tags / book.author_id != 7
//   - 分数：item.score >= 0.2
//   - 标签：label.recall_source == "recall.cf"
//   - 请求：rctx.scene == "home"
type Program struct {
	expr string
	prg  cel.Program
}

// Compile 编译表达式。空表达式返回 nil Program，其 Match 恒为 true。
func Compile(expr string) (*Program, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return boolean, got %s", out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &Program{expr: expr, prg: prg}, nil
}

// String 返回原始表达式。
func (p *Program) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// MatchBook 对单本书求值，用于语料筛选等不经过 Pipeline 的场景。
func (p *Program) MatchBook(b *core.Book) (bool, error) {
	if p == nil {
		return true, nil
	}
	return p.eval(map[string]any{
		"book":  BookVars(b),
		"item":  map[string]any{},
		"label": map[string]any{},
		"rctx":  map[string]any{},
	})
}

// Match 对 Pipeline 中的 Item 求值。
func (p *Program) Match(item *core.Item, rctx *core.RecommendContext) (bool, error) {
	if p == nil {
		return true, nil
	}
	return p.eval(buildInput(item, rctx))
}

func (p *Program) eval(input map[string]any) (bool, error) {
	out, _, err := p.prg.Eval(input)
	if err != nil {
		// 访问不存在的 key 会报错，用 label.key != null 判断存在性
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Eval 是单次求值的便捷入口：每次调用都会编译，热路径请用 Compile。
type Eval struct {
	item *core.Item
	rctx *core.RecommendContext
}

func NewEval(item *core.Item, rctx *core.RecommendContext) *Eval {
	return &Eval{item: item, rctx: rctx}
}

// Evaluate 解析并执行表达式，返回布尔结果。空表达式为 true。
func (e *Eval) Evaluate(expr string) (bool, error) {
	p, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return p.Match(e.item, e.rctx)
}

// BookVars 把 Book 展开为表达式变量 book.*。
func BookVars(b *core.Book) map[string]any {
	if b == nil {
		return map[string]any{}
	}
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":            b.ID,
		"title":         b.Title,
		"author_id":     b.AuthorID,
		"author_name":   b.AuthorName,
		"description":   b.Description,
		"tags":          tags,
		"ratings_count": int64(b.RatingsCount),
	}
}

func buildInput(it *core.Item, rctx *core.RecommendContext) map[string]any {
	item := map[string]any{}
	labelAccessor := map[string]any{}
	var book map[string]any
	if it != nil {
		labels := make(map[string]any, len(it.Labels))
		for k, v := range it.Labels {
			labels[k] = map[string]any{"value": v.Value, "source": v.Source}
			labelAccessor[k] = v.Value
		}
		item = map[string]any{
			"id":       it.ID,
			"score":    it.Score,
			"features": it.Features,
			"meta":     it.Meta,
			"labels":   labels,
		}
		book = BookVars(it.Book)
	} else {
		book = BookVars(nil)
	}

	r := map[string]any{}
	if rctx != nil {
		params := rctx.Params
		if params == nil {
			params = map[string]any{}
		}
		r = map[string]any{
			"user_id": rctx.UserID,
			"scene":   rctx.Scene,
			"params":  params,
		}
	}

	return map[string]any{
		"book":  book,
		"item":  item,
		"label": labelAccessor,
		"rctx":  r,
	}
}
