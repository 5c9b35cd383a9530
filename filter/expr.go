package filter

import (
	"context"
	"sync"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pkg/dsl"
)

// ExprFilter 保留表达式为 true 的书，其余过滤掉。
//
//	&filter.ExprFilter{Expr: `book.ratings_count > 1000 && !("horror" in book.tags)`}
type ExprFilter struct {
	Expr string

	once sync.Once
	prog *dsl.Program
	err  error
}

// NewExprFilter 编译表达式，语法错误立即返回。
func NewExprFilter(expr string) (*ExprFilter, error) {
	f := &ExprFilter{Expr: expr}
	if _, err := f.program(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

func (f *ExprFilter) program() (*dsl.Program, error) {
	f.once.Do(func() {
		f.prog, f.err = dsl.Compile(f.Expr)
	})
	return f.prog, f.err
}

func (f *ExprFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	prog, err := f.program()
	if err != nil {
		return false, err
	}
	keep, err := prog.Match(item, rctx)
	if err != nil {
		return false, err
	}
	return !keep, nil
}
