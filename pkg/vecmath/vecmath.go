// Package vecmath 提供稀疏（term -> weight）与稠密（[]float64）向量的余弦相似度等基础运算。
// 所有函数纯函数、无副作用、结果确定。
package vecmath

import (
	"math"
	"sort"
)

// Sparse 是稀疏向量：term -> weight，缺失的 term 视为 0。
type Sparse map[string]float64

// Dense 是稠密向量，下标即维度。
type Dense []float64

// Cosine 计算两个稀疏向量的余弦相似度。
// 点积在 key 的并集上计算（缺失视为 0），两个模长分别独立计算；
// 任一模长为 0 时返回 0。按 key 排序累加，结果与 map 遍历顺序无关且严格对称。
func Cosine(a, b Sparse) float64 {
	keysA, keysB := sortedKeys(a), sortedKeys(b)
	var dot, normA, normB float64
	for _, k := range keysA {
		va := a[k]
		normA += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, k := range keysB {
		vb := b[k]
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortedKeys(v Sparse) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CosineDense 计算两个稠密向量的余弦相似度。
// 长度不一致视为调用方错误，返回 0；任一模长为 0 时返回 0。
func CosineDense(a, b Dense) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Float32sToDense 把 float32 向量（常见于 embedding 服务的响应）转换为 Dense。
func Float32sToDense(v []float32) Dense {
	out := make(Dense, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
