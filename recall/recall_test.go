package recall

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/pkg/dsl"
	"github.com/rushteam/bookrec/store"
	"github.com/rushteam/bookrec/tfidf"
)

func ratingsOf(m map[string]map[int64]int) []core.Rating {
	var out []core.Rating
	for user, row := range m {
		for book, v := range row {
			out = append(out, core.Rating{UserID: user, BookID: book, Value: v})
		}
	}
	return out
}

func TestUserBasedCF_SimilarUsers(t *testing.T) {
	ratings := ratingsOf(map[string]map[int64]int{
		"alice": {1: 5, 2: 4, 3: 5},
		"bob":   {1: 5, 2: 4, 3: 5, 4: 5},
		"carol": {5: 3, 6: 2},
		"dave":  {1: 1, 2: 5},
	})
	cf := &UserBasedCF{}
	sims := cf.SimilarUsers("alice", ratings)

	bob, ok := sims["bob"]
	if !ok || math.Abs(bob-1) > 1e-9 {
		t.Errorf("bob similarity = %v (present=%v), want 1", bob, ok)
	}
	if _, ok := sims["carol"]; ok {
		t.Error("carol has no common books and must be excluded")
	}
	if _, ok := sims["dave"]; ok {
		t.Error("dave has 2 common books and must be excluded")
	}
	if _, ok := sims["alice"]; ok {
		t.Error("target must not be similar to itself")
	}
}

func TestUserBasedCF_Suggest(t *testing.T) {
	ratings := ratingsOf(map[string]map[int64]int{
		"alice": {1: 5, 2: 4, 3: 5},
		"bob":   {1: 5, 2: 4, 3: 5, 4: 5, 5: 2},
		"carol": {5: 3, 6: 2},
	})
	cf := &UserBasedCF{}

	got := cf.Suggest("alice", ratings, 0)
	if len(got) != 1 || got[0] != 4 {
		t.Errorf("Suggest(alice) = %v, want [4]", got)
	}

	if got := cf.Suggest("carol", ratings, 0); got == nil || len(got) != 0 {
		t.Errorf("unique taste should give empty non-nil result, got %v", got)
	}
	if got := cf.Suggest("nobody", ratings, 0); len(got) != 0 {
		t.Errorf("unknown user = %v", got)
	}
}

func TestUserBasedCF_SuggestTwoStageOrder(t *testing.T) {
	ratings := ratingsOf(map[string]map[int64]int{
		"t":  {1: 5, 2: 5, 3: 1},
		"u1": {1: 5, 2: 5, 3: 1, 10: 4, 11: 5},
		"u2": {1: 1, 2: 5, 3: 5, 12: 5},
		"x":  {10: 4},
		"y":  {12: 5},
		"z":  {12: 5},
	})
	cf := &UserBasedCF{}

	// u1 最相似，先收集 10、11；第一轮按均分 11(5.0) > 10(4.0)，第二轮按评分数 10(2) > 11(1)
	got := cf.Suggest("t", ratings, 2)
	want := []int64{10, 11}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Suggest = %v, want %v", got, want)
	}

	all := cf.Suggest("t", ratings, 5)
	want = []int64{12, 10, 11}
	if len(all) != 3 {
		t.Fatalf("Suggest(limit 5) = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("Suggest(limit 5) = %v, want %v", all, want)
			break
		}
	}
	rated := map[int64]bool{1: true, 2: true, 3: true}
	for _, id := range all {
		if rated[id] {
			t.Errorf("suggested already rated book %d", id)
		}
	}
}

func TestUserBasedCF_SuggestionsFor(t *testing.T) {
	cat := store.NewCatalog([]*core.Book{
		{ID: 1, Title: "a"}, {ID: 2, Title: "b"}, {ID: 3, Title: "c"}, {ID: 4, Title: "d"},
	}, ratingsOf(map[string]map[int64]int{
		"alice": {1: 5, 2: 4, 3: 5},
		"bob":   {1: 5, 2: 4, 3: 5, 4: 5},
	}))
	cf := &UserBasedCF{Books: cat, Reviews: cat}

	books, err := cf.SuggestionsFor(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 || books[0].ID != 4 {
		t.Errorf("SuggestionsFor = %v", books)
	}

	items, err := cf.Recall(context.Background(), &core.RecommendContext{UserID: "alice"})
	if err != nil || len(items) != 1 || items[0].Book == nil {
		t.Fatalf("Recall = %v, %v", items, err)
	}
	if lbl := items[0].Labels["recall_source"]; lbl.Value != "recall.cf" {
		t.Errorf("label = %v", lbl)
	}
}

func TestUserBasedCF_CollaborativeScores(t *testing.T) {
	ratings := ratingsOf(map[string]map[int64]int{
		"alice": {1: 5, 2: 4, 3: 5},
		"bob":   {1: 5, 2: 4, 3: 5, 4: 2},
	})
	scores := (&UserBasedCF{}).CollaborativeScores("alice", ratings)
	if math.Abs(scores[1]-1) > 1e-9 {
		t.Errorf("max score should normalise to 1, got %v", scores[1])
	}
	if math.Abs(scores[4]-0.4) > 1e-9 {
		t.Errorf("scores[4] = %v, want 0.4", scores[4])
	}
}

// wordsProcessor 按空白切分并转小写。
type wordsProcessor struct {
	err   error
	empty bool
}

func (p wordsProcessor) Tokenize(_ context.Context, text string) ([]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.empty {
		return []string{}, nil
	}
	return strings.Fields(strings.ToLower(text)), nil
}

func (p wordsProcessor) LemmatizeAll(ctx context.Context, texts map[int64]string) (map[int64][]string, error) {
	out := make(map[int64][]string, len(texts))
	for id, s := range texts {
		tokens, err := p.Tokenize(ctx, s)
		if err != nil {
			return nil, err
		}
		out[id] = tokens
	}
	return out, nil
}

type fixedEmbedder struct {
	vec []float64
	err error
}

func (e fixedEmbedder) Embed(context.Context, string) ([]float64, error) { return e.vec, e.err }

type mapEmbeddings map[int64][]float64

func (m mapEmbeddings) BookEmbeddings(context.Context) (map[int64][]float64, error) { return m, nil }

func contentFixture() *HybridContent {
	cat := store.NewCatalog([]*core.Book{
		{ID: 1, Description: "dragon magic kingdom", RatingsCount: 10},
		{ID: 2, Description: "dragon knight castle", RatingsCount: 5},
		{ID: 3, Description: "cooking recipes food", RatingsCount: 100},
		{ID: 4, Description: "castle siege war", RatingsCount: 50},
	}, []core.Rating{
		{UserID: "alice", BookID: 1, Value: 4},
	})
	return &HybridContent{
		Books:    cat,
		Reviews:  cat,
		Text:     wordsProcessor{},
		Embedder: fixedEmbedder{vec: []float64{1, 0}},
		Embeddings: mapEmbeddings{
			1: {1, 0},
			2: {0.8, 0.6},
			3: {0, 1},
			4: {0, 1},
		},
		Cache: tfidf.NewCache(),
	}
}

func ids(books []*core.Book) []int64 {
	out := make([]int64, len(books))
	for i, b := range books {
		out[i] = b.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHybridContent_RecommendFor(t *testing.T) {
	ctx := context.Background()

	// 混合分：2(0.653) > 1(0.600) > 4(0.100) > 3(0)
	// 候选池 {2,1,4} 按评分数重排为 4,1,2，剔除 alice 评过的 1
	r := contentFixture()
	r.PoolSize = 3
	got, err := r.RecommendFor(ctx, "dragon castle", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{4, 2}; !equalIDs(ids(got), want) {
		t.Errorf("RecommendFor = %v, want %v", ids(got), want)
	}

	// 确定性
	again, _ := r.RecommendFor(ctx, "dragon castle", "alice")
	if !equalIDs(ids(got), ids(again)) {
		t.Errorf("non-deterministic: %v vs %v", ids(got), ids(again))
	}

	// 仅 TF-IDF，不需要向量服务
	tfOnly := contentFixture()
	tfOnly.Embedder, tfOnly.Embeddings = nil, nil
	tfOnly.Weights = Weights{TFIDF: 1}
	tfOnly.PoolSize = 1
	got, err = tfOnly.RecommendFor(ctx, "dragon castle", "")
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{2}; !equalIDs(ids(got), want) {
		t.Errorf("tfidf only = %v, want %v", ids(got), want)
	}
}

func TestHybridContent_CorpusFilter(t *testing.T) {
	r := contentFixture()
	prog, err := dsl.Compile("book.ratings_count > 20")
	if err != nil {
		t.Fatal(err)
	}
	r.CorpusFilter = prog
	got, err := r.RecommendFor(context.Background(), "dragon castle", "")
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{3, 4}; !equalIDs(ids(got), want) {
		t.Errorf("filtered = %v, want %v", ids(got), want)
	}
}

func TestHybridContent_Failures(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(*HybridContent)
		query string
		check func(error) bool
	}{
		{name: "empty query", query: "   ", check: core.IsEmptyInput},
		{name: "tokenizer down", query: "dragon", setup: func(r *HybridContent) {
			r.Text = wordsProcessor{err: errors.New("connection refused")}
		}, check: core.IsUnavailable},
		{name: "no tokens", query: " ", setup: func(r *HybridContent) {}, check: func(err error) bool {
			return errors.Is(err, core.ErrNoTokens) || core.IsEmptyInput(err)
		}},
		{name: "embedder down", query: "dragon", setup: func(r *HybridContent) {
			r.Embedder = fixedEmbedder{err: errors.New("timeout")}
		}, check: core.IsUnavailable},
		{name: "empty embedding", query: "dragon", setup: func(r *HybridContent) {
			r.Embedder = fixedEmbedder{}
		}, check: core.IsUnavailable},
		{name: "no embedder", query: "dragon", setup: func(r *HybridContent) {
			r.Embedder = nil
		}, check: func(err error) bool {
			return core.IsUnavailable(err) && strings.Contains(err.Error(), "no embedder")
		}},
		{name: "no embedding store", query: "dragon", setup: func(r *HybridContent) {
			r.Embeddings = nil
		}, check: func(err error) bool {
			return core.IsUnavailable(err) && strings.Contains(err.Error(), "no embedding store")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := contentFixture()
			if tt.setup != nil {
				tt.setup(r)
			}
			got, err := r.RecommendFor(ctx, tt.query, "")
			if err == nil {
				t.Fatalf("expected error, got %v", ids(got))
			}
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestBlend(t *testing.T) {
	got := Blend(DefaultWeights,
		map[int64]float64{1: 1, 2: 0.5},
		map[int64]float64{2: 1, 3: 0.4},
		map[int64]float64{4: 1},
	)
	want := map[int64]float64{1: 0.5, 2: 0.75, 3: 0.2}
	if len(got) != len(want) {
		t.Fatalf("Blend = %v, want %v", got, want)
	}
	for id, v := range want {
		if math.Abs(got[id]-v) > 1e-12 {
			t.Errorf("Blend[%d] = %v, want %v", id, got[id], v)
		}
	}

	withCF := Blend(Weights{TFIDF: 0.4, Embedding: 0.4, Collaborative: 0.2}, nil, nil, map[int64]float64{4: 1})
	if math.Abs(withCF[4]-0.2) > 1e-12 {
		t.Errorf("cf blend = %v", withCF)
	}
}

func TestTagSimilarity_SimilarBooks(t *testing.T) {
	ctx := context.Background()
	books := []*core.Book{
		{ID: 1, Tags: []string{"scifi", "space"}},
		{ID: 2, Tags: []string{"scifi", "space"}},
		{ID: 3, Tags: []string{"romance"}},
		{ID: 4, Tags: []string{"cooking"}},
		{ID: 5, Tags: []string{"history"}},
	}
	cat := store.NewCatalog(books, nil)
	r := &TagSimilarity{Books: cat}

	// N=5：scifi/space 的 idf = ln(5/3) > 0，种子向量非零
	ranked, ok := r.Rank(books, 1, 0)
	if !ok {
		t.Fatal("seed should be found")
	}
	scores := make(map[int64]float64, len(ranked))
	for _, sb := range ranked {
		scores[sb.BookID] = sb.Score
	}
	if math.Abs(scores[2]-1) > 1e-9 {
		t.Errorf("score(B) = %v, want 1", scores[2])
	}
	if scores[3] != 0 || !(scores[2] > scores[3]) {
		t.Errorf("score(B) = %v, score(C) = %v, want B > C = 0", scores[2], scores[3])
	}

	got, err := r.SimilarBooks(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if g := ids(got); len(g) == 0 || g[0] != 2 {
		t.Errorf("SimilarBooks(A) = %v, want 2 first", g)
	}
}

func TestTagSimilarity_Rank(t *testing.T) {
	books := []*core.Book{
		{ID: 1, Tags: []string{"scifi", "space", "classic"}},
		{ID: 2, Tags: []string{"scifi", "space"}},
		{ID: 3, Tags: []string{"romance", "classic"}},
		{ID: 4, Tags: []string{"romance"}},
		{ID: 5, Tags: []string{"cooking"}},
		{ID: 6},
		{ID: 7, Tags: []string{"history"}},
	}
	r := &TagSimilarity{}

	ranked, ok := r.Rank(books, 1, 0)
	if !ok {
		t.Fatal("seed should be found")
	}
	if ranked[0].BookID != 2 {
		t.Errorf("best match = %d, want 2 (%v)", ranked[0].BookID, ranked)
	}
	for _, sb := range ranked {
		if sb.BookID == 1 || sb.BookID == 6 {
			t.Errorf("seed or tagless book in result: %v", ranked)
		}
	}
	if len(ranked) != 5 {
		t.Errorf("len = %d, want 5", len(ranked))
	}

	top, _ := r.Rank(books, 1, 2)
	if len(top) != 2 {
		t.Errorf("topN not applied: %v", top)
	}

	if _, ok := r.Rank(books, 6, 0); ok {
		t.Error("tagless seed should not be ok")
	}
	if _, ok := r.Rank(books, 99, 0); ok {
		t.Error("unknown seed should not be ok")
	}
}

func TestTagSimilarity_MissingSeed(t *testing.T) {
	cat := store.NewCatalog([]*core.Book{{ID: 1}, {ID: 2, Tags: []string{"a"}}}, nil)
	r := &TagSimilarity{Books: cat}
	for _, id := range []int64{1, 42} {
		got, err := r.SimilarBooks(context.Background(), id)
		if err != nil || len(got) != 0 {
			t.Errorf("SimilarBooks(%d) = %v, %v; want empty", id, got, err)
		}
	}
	items, err := r.Recall(context.Background(), &core.RecommendContext{})
	if err != nil || items != nil {
		t.Errorf("missing book_id param = %v, %v", items, err)
	}
}

func popularityRatings() []core.Rating {
	return ratingsOf(map[string]map[int64]int{
		"alice": {1: 5},
		"u1":    {1: 5, 2: 4, 3: 5, 5: 3},
		"u2":    {2: 4, 3: 5, 5: 3},
		"u3":    {2: 4, 4: 5, 5: 3},
		"u4":    {5: 3},
	})
}

func TestHot_MostPopular(t *testing.T) {
	r := &Hot{}
	// 2: 3*4=12, 5: 4*3=12, 3: 2*5=10, 4: 5, 1 被排除
	got := core.BookIDs(r.MostPopular(popularityRatings(), "alice", 10))
	if want := []int64{2, 5, 3, 4}; !equalIDs(got, want) {
		t.Errorf("MostPopular = %v, want %v", got, want)
	}
	if got := r.MostPopular(popularityRatings(), "alice", 2); len(got) != 2 {
		t.Errorf("limit not applied: %v", got)
	}
	// 不排除时 1 与 3 同为 10 分，按 ID 升序
	if got := core.BookIDs(r.MostPopular(popularityRatings(), "", 0)); !equalIDs(got, []int64{2, 5, 1, 3, 4}) {
		t.Errorf("default limit without exclusion = %v", got)
	}
}

func TestHot_Recall(t *testing.T) {
	ctx := context.Background()
	books := []*core.Book{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}}
	cat := store.NewCatalog(books, popularityRatings())

	live := &Hot{Books: cat, Reviews: cat, Limit: 2}
	items, err := live.Recall(ctx, &core.RecommendContext{UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != 2 || items[1].ID != 5 {
		t.Errorf("live = %v", items)
	}

	kv := store.NewMemoryStore()
	if err := store.PublishPopular(ctx, kv, "pop", []int64{3, 1}); err != nil {
		t.Fatal(err)
	}
	offline := &Hot{Books: cat, Store: kv, Key: "pop"}
	items, err = offline.Recall(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != 3 || items[1].ID != 1 {
		t.Errorf("offline = %v", items)
	}
}

func TestHot_OfflineExcludesRatedAndLimits(t *testing.T) {
	ctx := context.Background()
	var books []*core.Book
	var published []int64
	for id := int64(1); id <= 12; id++ {
		books = append(books, &core.Book{ID: id})
		published = append(published, id)
	}
	cat := store.NewCatalog(books, []core.Rating{
		{UserID: "alice", BookID: 1, Value: 5},
		{UserID: "alice", BookID: 3, Value: 2},
	})
	kv := store.NewMemoryStore()
	if err := store.PublishPopular(ctx, kv, "pop", published); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		hot  *Hot
		user string
		want []int64
	}{
		{"rated user", &Hot{Books: cat, Reviews: cat, Store: kv, Key: "pop", Offline: true, Limit: 2}, "alice", []int64{2, 4}},
		{"anonymous", &Hot{Books: cat, Reviews: cat, Store: kv, Key: "pop", Offline: true, Limit: 2}, "", []int64{1, 2}},
		{"no review store", &Hot{Books: cat, Store: kv, Key: "pop", Limit: 3}, "alice", []int64{1, 2, 3}},
		{"default limit", &Hot{Books: cat, Reviews: cat, Store: kv, Key: "pop", Offline: true}, "alice", []int64{2, 4, 5, 6, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := tt.hot.Recall(ctx, &core.RecommendContext{UserID: tt.user})
			if err != nil {
				t.Fatal(err)
			}
			got := make([]int64, len(items))
			for i, it := range items {
				got[i] = it.ID
			}
			if !equalIDs(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

type stubSource struct {
	name string
	ids  []int64
	err  error
}

func (s stubSource) Name() string { return s.name }
func (s stubSource) Recall(context.Context, *core.RecommendContext) ([]*core.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*core.Item, len(s.ids))
	for i, id := range s.ids {
		out[i] = core.NewItem(id)
	}
	return out, nil
}

func TestFanout(t *testing.T) {
	sources := []Source{
		stubSource{name: "a", ids: []int64{1, 2}},
		stubSource{name: "broken", err: errors.New("boom")},
		stubSource{name: "b", ids: []int64{2, 3}},
	}

	tests := []struct {
		strategy string
		dedup    bool
		want     []int64
	}{
		{"first", true, []int64{1, 2, 3}},
		{"priority", true, []int64{1, 2, 3}},
		{"union", true, []int64{1, 2, 2, 3}},
		{"first", false, []int64{1, 2, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			f := &Fanout{Sources: sources, Dedup: tt.dedup, MergeStrategy: tt.strategy, MaxConcurrent: 2}
			items, err := f.Process(context.Background(), &core.RecommendContext{}, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := make([]int64, len(items))
			for i, it := range items {
				got[i] = it.ID
			}
			if !equalIDs(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserHistory(t *testing.T) {
	cat := store.NewCatalog([]*core.Book{
		{ID: 1, AuthorID: 10, RatingsCount: 5},
		{ID: 2, AuthorID: 10, RatingsCount: 1},
		{ID: 3, AuthorID: 10, RatingsCount: 9},
		{ID: 4, AuthorID: 20, RatingsCount: 50},
		{ID: 5, AuthorID: 20, RatingsCount: 2},
		{ID: 6, AuthorID: 30, RatingsCount: 100},
		{ID: 7, AuthorID: 20, RatingsCount: 7},
	}, []core.Rating{
		{UserID: "u", BookID: 1, Value: 5},
		{UserID: "u", BookID: 2, Value: 4},
		{UserID: "u", BookID: 4, Value: 4},
		{UserID: "u", BookID: 6, Value: 2},
	})
	r := &UserHistory{Books: cat, Reviews: cat}

	items, err := r.Recall(context.Background(), &core.RecommendContext{UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	got := make([]int64, len(items))
	for i, it := range items {
		got[i] = it.ID
	}
	// 作者 10 被喜欢两次优先，作者 20 一次按评分人数；作者 30 只有低分
	want := []int64{3, 7, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	items, err = r.Recall(context.Background(), &core.RecommendContext{UserID: "nobody"})
	if err != nil || len(items) != 0 {
		t.Errorf("unknown user = %v, %v", items, err)
	}
}
