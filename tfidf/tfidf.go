// Package tfidf 在固定语料（书籍描述或标签集合）上构建与查询 TF-IDF 模型。
//
// 语料是 documentID -> 已分词的 token 序列；分词、词形还原、去停用词由外部 TextProcessor 负责。
//
//	idf := tfidf.ComputeIDF(corpus)
//	idx := tfidf.NewIndex(corpus, tfidf.Raw)
//	scores := idx.SimilarityToCorpus(idx.Vectorize(queryTokens, idf), idf)
package tfidf

import (
	"math"

	"github.com/rushteam/bookrec/pkg/vecmath"
)

// Corpus 是 documentID -> token 序列。
type Corpus map[int64][]string

// IDF 是 term -> 逆文档频率。不存在的 term 视为 0。
type IDF map[string]float64

// Weight 返回 term 的 idf，缺失时为 0。
func (idf IDF) Weight(term string) float64 {
	return idf[term]
}

// Scheme 是词频计算方式。同一次计算中 query 与所有文档必须使用同一种方式。
type Scheme int

const (
	// Raw: count(term) / len(tokens)
	Raw Scheme = iota
	// Sublinear: 1 + ln(count(term))
	Sublinear
)

func (s Scheme) String() string {
	if s == Sublinear {
		return "sublinear"
	}
	return "raw"
}

// ParseScheme 解析配置中的 scheme 名称，未知值返回 Raw。
func ParseScheme(name string) Scheme {
	if name == "sublinear" {
		return Sublinear
	}
	return Raw
}

// ComputeIDF 计算 idf = ln(N / (1 + df))。
// N 为文档数，df 为包含该 term 的文档数（同一文档内重复只计一次）。
// 出现在所有文档中的 term 得到 ln(N/(N+1))，是一个小的负数。
func ComputeIDF(corpus Corpus) IDF {
	n := float64(len(corpus))
	df := make(map[string]int)
	for _, tokens := range corpus {
		seen := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}
	idf := make(IDF, len(df))
	for term, count := range df {
		idf[term] = math.Log(n / float64(1+count))
	}
	return idf
}

// TermFrequency 计算 token 序列的词频向量。
func TermFrequency(tokens []string, scheme Scheme) vecmath.Sparse {
	tf := make(vecmath.Sparse)
	if len(tokens) == 0 {
		return tf
	}
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	total := float64(len(tokens))
	for term, c := range counts {
		switch scheme {
		case Sublinear:
			tf[term] = 1 + math.Log(float64(c))
		default:
			tf[term] = float64(c) / total
		}
	}
	return tf
}

// TFIDF 计算 tf * idf，idf 缺失的 term 权重为 0。
func TFIDF(tokens []string, idf IDF, scheme Scheme) vecmath.Sparse {
	tf := TermFrequency(tokens, scheme)
	out := make(vecmath.Sparse, len(tf))
	for term, w := range tf {
		out[term] = w * idf.Weight(term)
	}
	return out
}

// Index 是某个语料快照上的 TF-IDF 查询器。
// 文档向量不缓存，每次打分时重新计算，保证语料变更后结果正确。
type Index struct {
	Corpus Corpus
	Scheme Scheme
}

func NewIndex(corpus Corpus, scheme Scheme) *Index {
	return &Index{Corpus: corpus, Scheme: scheme}
}

// IDF 计算当前语料的 idf 表。
func (ix *Index) IDF() IDF {
	return ComputeIDF(ix.Corpus)
}

// Vectorize 以索引的 scheme 构建查询向量。
func (ix *Index) Vectorize(tokens []string, idf IDF) vecmath.Sparse {
	return TFIDF(tokens, idf, ix.Scheme)
}

// SimilarityToCorpus 计算查询向量与语料中每个文档的余弦相似度。
func (ix *Index) SimilarityToCorpus(query vecmath.Sparse, idf IDF) map[int64]float64 {
	out := make(map[int64]float64, len(ix.Corpus))
	for id, tokens := range ix.Corpus {
		out[id] = vecmath.Cosine(query, TFIDF(tokens, idf, ix.Scheme))
	}
	return out
}
