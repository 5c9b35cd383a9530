package tfidf

import (
	"math"
	"sync"
	"testing"
)

func fantasyCorpus() Corpus {
	return Corpus{
		1: {"dragon", "magic", "kingdom"},
		2: {"dragon", "knight", "castle"},
		3: {"cooking", "recipes", "food"},
	}
}

func TestComputeIDF(t *testing.T) {
	idf := ComputeIDF(fantasyCorpus())

	if got, want := idf["dragon"], math.Log(3.0/3.0); math.Abs(got-want) > 1e-12 {
		t.Errorf("idf[dragon] = %v, want %v", got, want)
	}
	if got, want := idf["castle"], math.Log(3.0/2.0); math.Abs(got-want) > 1e-12 {
		t.Errorf("idf[castle] = %v, want %v", got, want)
	}
	if _, ok := idf["unicorn"]; ok {
		t.Error("absent term must not be in the table")
	}
	if idf.Weight("unicorn") != 0 {
		t.Error("absent term weight must default to 0")
	}
}

func TestComputeIDF_TermInEveryDocument(t *testing.T) {
	corpus := Corpus{
		1: {"book", "book", "a"},
		2: {"book", "b"},
		3: {"book", "c"},
		4: {"book"},
	}
	idf := ComputeIDF(corpus)
	got := idf["book"]
	want := math.Log(4.0 / 5.0)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("idf[book] = %v", got)
	}
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("idf[book] = %v, want %v", got, want)
	}
}

func TestTermFrequency(t *testing.T) {
	tokens := []string{"a", "b", "a", "a"}

	raw := TermFrequency(tokens, Raw)
	if raw["a"] != 0.75 || raw["b"] != 0.25 {
		t.Errorf("raw tf = %v", raw)
	}

	sub := TermFrequency(tokens, Sublinear)
	if math.Abs(sub["a"]-(1+math.Log(3))) > 1e-12 || sub["b"] != 1 {
		t.Errorf("sublinear tf = %v", sub)
	}

	if len(TermFrequency(nil, Raw)) != 0 {
		t.Error("empty tokens should give empty tf")
	}
}

func TestTFIDF_MissingIDFIsZero(t *testing.T) {
	v := TFIDF([]string{"known", "unknown"}, IDF{"known": 2}, Raw)
	if v["known"] != 1 {
		t.Errorf("known = %v, want 1", v["known"])
	}
	if w, ok := v["unknown"]; !ok || w != 0 {
		t.Errorf("unknown = %v (present=%v), want 0", w, ok)
	}
}

func TestSimilarityToCorpus_DragonCastle(t *testing.T) {
	for _, scheme := range []Scheme{Raw, Sublinear} {
		t.Run(scheme.String(), func(t *testing.T) {
			idx := NewIndex(fantasyCorpus(), scheme)
			idf := idx.IDF()
			scores := idx.SimilarityToCorpus(idx.Vectorize([]string{"dragon", "castle"}, idf), idf)

			if len(scores) != 3 {
				t.Fatalf("expected a score per document, got %v", scores)
			}
			if !(scores[2] > scores[3]) {
				t.Errorf("book2 (%v) should rank above book3 (%v)", scores[2], scores[3])
			}
			if scores[3] != 0 {
				t.Errorf("book3 shares no term, got %v", scores[3])
			}
		})
	}
}

func TestSimilarityToCorpus_OrderInvariant(t *testing.T) {
	docs := []struct {
		id     int64
		tokens []string
	}{
		{1, []string{"space", "opera", "empire"}},
		{2, []string{"space", "station", "mystery"}},
		{3, []string{"mystery", "detective", "london"}},
		{4, []string{"empire", "war", "space"}},
	}
	forward := Corpus{}
	for _, d := range docs {
		forward[d.id] = d.tokens
	}
	backward := Corpus{}
	for i := len(docs) - 1; i >= 0; i-- {
		backward[docs[i].id] = docs[i].tokens
	}

	query := []string{"space", "mystery"}
	a := NewIndex(forward, Raw)
	b := NewIndex(backward, Raw)
	idfA, idfB := a.IDF(), b.IDF()
	sa := a.SimilarityToCorpus(a.Vectorize(query, idfA), idfA)
	sb := b.SimilarityToCorpus(b.Vectorize(query, idfB), idfB)
	for id, v := range sa {
		if sb[id] != v {
			t.Errorf("doc %d: %v vs %v", id, v, sb[id])
		}
	}
	if CorpusVersion(forward) != CorpusVersion(backward) {
		t.Error("corpus version must not depend on insertion order")
	}
}

func TestCorpusVersion_ChangesWithContent(t *testing.T) {
	c := fantasyCorpus()
	v1 := CorpusVersion(c)
	c[4] = []string{"new"}
	if v2 := CorpusVersion(c); v1 == v2 {
		t.Error("version should change when a document is added")
	}
	// token boundaries matter: {"ab"} vs {"a","b"}
	if CorpusVersion(Corpus{1: {"ab"}}) == CorpusVersion(Corpus{1: {"a", "b"}}) {
		t.Error("version should separate tokens")
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	corpus := fantasyCorpus()
	version := CorpusVersion(corpus)

	builds := 0
	build := func() IDF { builds++; return ComputeIDF(corpus) }

	first := c.IDF(version, build)
	second := c.IDF(version, build)
	if builds != 1 {
		t.Errorf("expected 1 build, got %d", builds)
	}
	if first["castle"] != second["castle"] {
		t.Error("cached table differs")
	}

	c.IDF("other-version", build)
	if builds != 2 {
		t.Errorf("new version should rebuild, builds=%d", builds)
	}

	c.Invalidate()
	c.IDF("other-version", build)
	if builds != 3 {
		t.Errorf("invalidate should force rebuild, builds=%d", builds)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 3 {
		t.Errorf("stats = %d/%d, want 1/3", hits, misses)
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache()
	corpus := fantasyCorpus()
	version := CorpusVersion(corpus)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idf := c.IDF(version, func() IDF { return ComputeIDF(corpus) })
			if _, ok := idf["dragon"]; !ok {
				t.Error("missing dragon")
			}
		}()
	}
	wg.Wait()
}

func TestCache_NilIsPassThrough(t *testing.T) {
	var c *Cache
	idf := c.IDF("v", func() IDF { return IDF{"x": 1} })
	if idf["x"] != 1 {
		t.Error("nil cache should call build")
	}
	c.Invalidate()
}
