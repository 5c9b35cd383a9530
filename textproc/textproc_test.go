package textproc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/pkg/logging"
)

func newTextService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lemmatize", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Text string }
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode([]string{"dragon", "castle"})
	})
	mux.HandleFunc("/batch_lemmatize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Descriptions []struct {
				ID   int64  `json:"id"`
				Text string `json:"text"`
			} `json:"descriptions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := map[int64][]string{}
		for _, d := range req.Descriptions {
			out[d.ID] = []string{d.Text}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/word2vec_embed", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			http.Error(w, "missing request id", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode([]float64{0.5, -0.25})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient(t *testing.T) {
	srv := newTextService(t)
	c := NewHTTPClient(DefaultHTTPConfig(srv.URL+"/"), srv.Client())
	ctx := logging.WithRequestID(context.Background())

	tokens, err := c.Tokenize(ctx, "Dragons and castles")
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 || tokens[0] != "dragon" {
		t.Errorf("Tokenize = %v", tokens)
	}

	lemmas, err := c.LemmatizeAll(ctx, map[int64]string{1: "one", 22: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(lemmas) != 2 || lemmas[22][0] != "two" {
		t.Errorf("LemmatizeAll = %v", lemmas)
	}

	empty, err := c.LemmatizeAll(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty batch = %v, %v", empty, err)
	}

	vec, err := c.Embed(ctx, "dragon")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[1] != -0.25 {
		t.Errorf("Embed = %v", vec)
	}
}

func TestHTTPClient_Failures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/lemmatize":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/word2vec_embed":
			_, _ = w.Write([]byte("not json"))
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	cfg := DefaultHTTPConfig(srv.URL)
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Minute
	c := NewHTTPClient(cfg, srv.Client())
	c.Metrics = metrics.New(reg)
	ctx := context.Background()

	_, err := c.Embed(ctx, "x")
	if !core.IsUnavailable(err) {
		t.Errorf("decode failure = %v, want UNAVAILABLE", err)
	}
	if d := core.GetDomainError(err); d == nil || d.Module != core.ModuleEmbedding {
		t.Errorf("embed error module = %v", d)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Tokenize(ctx, "x"); !core.IsUnavailable(err) {
			t.Errorf("status 500 = %v, want UNAVAILABLE", err)
		}
	}
	if c.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", c.BreakerState())
	}

	before := calls.Load()
	if _, err := c.Tokenize(ctx, "x"); !errors.Is(err, core.ErrTextUnavailable) || !core.IsUnavailable(err) {
		t.Errorf("open breaker = %v, want ErrTextUnavailable", err)
	}
	if calls.Load() != before {
		t.Error("open breaker should not reach the service")
	}

	if got := testutil.ToFloat64(c.Metrics.TextServiceErrors.WithLabelValues("tokenize")); got != 3 {
		t.Errorf("tokenize errors = %v, want 3", got)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	c := NewHTTPClient(cfg, srv.Client())
	if _, err := c.Embed(context.Background(), "x"); !core.IsUnavailable(err) {
		t.Errorf("timeout = %v, want UNAVAILABLE", err)
	}
}

func TestLocal_Tokenize(t *testing.T) {
	l := NewLocal()
	tests := []struct {
		in   string
		want []string
	}{
		{"The Dragon and the Castle!", []string{"dragon", "castle"}},
		{"  ", []string{}},
		{"Harry Potter 7: the end", []string{"harry", "potter", "7", "end"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := l.Tokenize(context.Background(), tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestLocal_CustomStopwords(t *testing.T) {
	l := &Local{Stopwords: Stopwords("dragon")}
	got, _ := l.LemmatizeAll(context.Background(), map[int64]string{1: "the dragon"})
	if len(got[1]) != 1 || got[1][0] != "the" {
		t.Errorf("got %v", got)
	}
}
