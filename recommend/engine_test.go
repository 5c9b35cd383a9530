package recommend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/recall"
	"github.com/rushteam/bookrec/store"
)

const catalogYAML = `
books:
  - {id: 1, title: Dragon Keep, author_id: 1, tags: [fantasy, dragons], description: a dragon guards the castle}
  - {id: 2, title: Sea of Dragons, author_id: 1, tags: [fantasy, dragons, sea], description: dragon sails the sea}
  - {id: 3, title: Garden Days, author_id: 2, tags: [gardening], description: flowers in the garden}
  - {id: 4, title: Space Fleet, author_id: 3, tags: [scifi, space], description: ships in deep space}
  - {id: 5, title: Star Dragons, author_id: 3, tags: [scifi, dragons], description: dragon in space}
  - {id: 6, title: Untagged, author_id: 4, description: plain volume}
ratings:
  - {user_id: alice, book_id: 1, value: 5}
  - {user_id: alice, book_id: 2, value: 4}
  - {user_id: alice, book_id: 3, value: 3}
  - {user_id: bob, book_id: 1, value: 5}
  - {user_id: bob, book_id: 2, value: 4}
  - {user_id: bob, book_id: 3, value: 3}
  - {user_id: bob, book_id: 4, value: 5}
  - {user_id: bob, book_id: 5, value: 2}
  - {user_id: carol, book_id: 4, value: 4}
`

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Content.Weights = recall.Weights{TFIDF: 1}
	return cfg
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	cat, err := store.ParseCatalogYAML([]byte(catalogYAML))
	if err != nil {
		t.Fatal(err)
	}
	deps.Catalog = cat
	e, err := New(testConfig(), deps)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func bookIDs(books []*core.Book) []int64 {
	out := make([]int64, len(books))
	for i, b := range books {
		out[i] = b.ID
	}
	return out
}

func sameIDs(a, b []int64) bool {
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

func TestEngine_Home(t *testing.T) {
	e := newTestEngine(t, Deps{})
	ctx := context.Background()

	tests := []struct {
		user      string
		cold      bool
		popular   []int64
		suggested []int64
	}{
		{"alice", false, []int64{4, 5}, []int64{4}},
		{"carol", true, []int64{1, 2, 3, 5}, []int64{}},
		{"", true, []int64{1, 4, 2, 3, 5}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			feed, err := e.Home(ctx, tt.user)
			if err != nil {
				t.Fatal(err)
			}
			if feed.ColdUser != tt.cold {
				t.Errorf("ColdUser = %v, want %v", feed.ColdUser, tt.cold)
			}
			if got := bookIDs(feed.Popular); !sameIDs(got, tt.popular) {
				t.Errorf("Popular = %v, want %v", got, tt.popular)
			}
			if got := bookIDs(feed.Suggested); !sameIDs(got, tt.suggested) {
				t.Errorf("Suggested = %v, want %v", got, tt.suggested)
			}
		})
	}
}

func TestEngine_ByTag(t *testing.T) {
	e := newTestEngine(t, Deps{})
	ctx := context.Background()

	page, err := e.ByTag(ctx, "alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.Book.Title != "Dragon Keep" {
		t.Errorf("Book = %q", page.Book.Title)
	}
	if got := bookIDs(page.Similar); len(got) < 2 || got[0] != 2 || got[1] != 5 {
		t.Errorf("Similar = %v, want prefix [2 5]", got)
	}
	for _, b := range page.Similar {
		if b.ID == 1 || b.ID == 6 {
			t.Errorf("Similar contains seed or untagged book %d", b.ID)
		}
	}
	if len(page.Rated) != 3 || page.Rated[1] != 5 {
		t.Errorf("Rated = %v", page.Rated)
	}

	page, err = e.ByTag(ctx, "", 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Similar) != 0 {
		t.Errorf("untagged seed Similar = %v, want empty", bookIDs(page.Similar))
	}

	if _, err := e.ByTag(ctx, "alice", 999); !errors.Is(err, core.ErrBookNotFound) {
		t.Errorf("err = %v, want ErrBookNotFound", err)
	}
}

type failingText struct{}

func (failingText) Tokenize(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func (failingText) LemmatizeAll(context.Context, map[int64]string) (map[int64][]string, error) {
	return nil, errors.New("connection refused")
}

func TestEngine_Suggest(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(t, Deps{Metrics: m})
	e.Content.PoolSize = 3

	res := e.Suggest(ctx, "dragon space", "carol")
	if res.Status != core.StatusOK {
		t.Fatalf("Status = %s (%s)", res.Status, res.Reason)
	}
	if got := bookIDs(res.Books); !sameIDs(got, []int64{1, 5}) {
		t.Errorf("Books = %v, want [1 5]", got)
	}

	if res := e.Suggest(ctx, "   ", "carol"); res.Status != core.StatusEmpty {
		t.Errorf("blank query Status = %s, want empty", res.Status)
	}

	broken := newTestEngine(t, Deps{Text: failingText{}, Metrics: m})
	res = broken.Suggest(ctx, "dragon", "carol")
	if !res.Failed() || res.Reason == "" || len(res.Books) != 0 {
		t.Errorf("failed suggest = %+v", res)
	}

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(recSuggest, string(core.StatusFailed))); got != 1 {
		t.Errorf("failed requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(recSuggest, string(core.StatusOK))); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}
}

func TestEngine_SearchAndPublish(t *testing.T) {
	e := newTestEngine(t, Deps{})
	ctx := context.Background()

	if got := bookIDs(e.Search("DRAGON")); !sameIDs(got, []int64{1, 2, 5}) {
		t.Errorf("Search = %v, want [1 2 5]", got)
	}

	kv := store.NewMemoryStore()
	ids, err := e.PublishPopular(ctx, kv, store.DefaultPopularKey, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !sameIDs(ids, []int64{1, 4, 2}) {
		t.Errorf("published = %v, want [1 4 2]", ids)
	}
	got, err := store.ReadPopular(ctx, kv, store.DefaultPopularKey, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !sameIDs(got, ids) {
		t.Errorf("read back = %v, want %v", got, ids)
	}

	if _, err := e.Run(ctx, &core.RecommendContext{}); !errors.Is(err, ErrNoPipeline) {
		t.Errorf("Run err = %v, want ErrNoPipeline", err)
	}
}

func TestOpen_Pipeline(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	pipelinePath := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(catalogPath, []byte(catalogYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pipelinePath, []byte(`
pipeline:
  name: home
  nodes:
    - type: recall.fanout
      config:
        merge_strategy: priority
        sources:
          - type: cf
          - type: hot
    - type: filter
      config:
        filters:
          - type: rated
    - type: rerank.topn
      config:
        n: 3
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Catalog = catalogPath
	cfg.Pipeline = pipelinePath
	e, closeFn, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if e.Content.Weights.Embedding != 0 {
		t.Errorf("embedding weight = %v, want 0 without a text service", e.Content.Weights.Embedding)
	}
	books, err := e.Run(context.Background(), &core.RecommendContext{UserID: "alice", Scene: "home"})
	if err != nil {
		t.Fatal(err)
	}
	if got := bookIDs(books); !sameIDs(got, []int64{4, 5}) {
		t.Errorf("pipeline = %v, want [4 5]", got)
	}
}

func TestOpen_NoCatalog(t *testing.T) {
	if _, _, err := Open(context.Background(), DefaultConfig(), nil); err == nil {
		t.Error("expected error without catalog or redis")
	}
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTextService 模拟词形还原服务：小写后按空格切分。
func newTextService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lemmatize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(strings.Fields(strings.ToLower(req.Text)))
	})
	mux.HandleFunc("/batch_lemmatize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Descriptions []struct {
				ID   int64  `json:"id"`
				Text string `json:"text"`
			} `json:"descriptions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make(map[string][]string, len(req.Descriptions))
		for _, d := range req.Descriptions {
			out[strconv.FormatInt(d.ID, 10)] = strings.Fields(strings.ToLower(d.Text))
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/word2vec_embed", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]float64{1, 0})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpen_TextServiceWithoutEmbeddingStore(t *testing.T) {
	srv := newTextService(t)
	cfg := DefaultConfig()
	cfg.Catalog = writeCatalog(t)
	cfg.Text.Endpoint = srv.URL

	e, closeFn, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if w := e.Content.Weights; w.Embedding != 0 || w.TFIDF != 0.5 {
		t.Errorf("weights = %+v, want embedding disabled", w)
	}
	res := e.Suggest(context.Background(), "dragon", "")
	if res.Status != core.StatusOK || len(res.Books) == 0 {
		t.Fatalf("Suggest = %s (%s) %v", res.Status, res.Reason, bookIDs(res.Books))
	}
}

func TestNew_SeparateIDFCaches(t *testing.T) {
	e := newTestEngine(t, Deps{})
	ctx := context.Background()
	if e.Content.Cache == e.Tags.Cache {
		t.Fatal("content and tag recommenders share one idf cache")
	}
	for i := 0; i < 2; i++ {
		if res := e.Suggest(ctx, "dragon", ""); res.Failed() {
			t.Fatalf("Suggest: %s", res.Reason)
		}
		if _, err := e.ByTag(ctx, "", 1); err != nil {
			t.Fatal(err)
		}
	}
	if hits, misses := e.Content.Cache.Stats(); hits != 1 || misses != 1 {
		t.Errorf("content cache hits/misses = %d/%d, want 1/1", hits, misses)
	}
	if hits, misses := e.Tags.Cache.Stats(); hits != 1 || misses != 1 {
		t.Errorf("tag cache hits/misses = %d/%d, want 1/1", hits, misses)
	}
}
