package dsl

import (
	"testing"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pkg/utils"
)

func TestProgram_MatchBook(t *testing.T) {
	book := &core.Book{ID: 7, Title: "Dune", AuthorID: 3, Tags: []string{"scifi", "desert"}, RatingsCount: 1500}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"book.ratings_count > 1000", true},
		{"book.ratings_count > 2000", false},
		{`"scifi" in book.tags`, true},
		{`"romance" in book.tags`, false},
		{`book.title.contains("Du") && book.author_id == 3`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := Compile(tt.expr)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := p.MatchBook(book)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProgram_Match(t *testing.T) {
	it := core.NewBookItem(&core.Book{ID: 1, RatingsCount: 10}, 0.8)
	it.PutLabel("recall_source", utils.Label{Value: "recall.cf", Source: "recall"})
	rctx := &core.RecommendContext{UserID: "alice", Scene: "home"}

	ok, err := NewEval(it, rctx).Evaluate(`label.recall_source == "recall.cf" && item.score > 0.5 && rctx.scene == "home"`)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected match")
	}
}

func TestCompile_Errors(t *testing.T) {
	if _, err := Compile("book.ratings_count >"); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := Compile(`"x" + "y"`); err == nil {
		t.Error("expected non-bool error")
	}
}
