package store

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/pkg/logging"
)

// DefaultEmbeddingKey 是书籍向量 Hash 的默认 key（field = book_id）。
const DefaultEmbeddingKey = "book:embeddings"

// ParseEmbedding 解析存储中的向量文本，支持 "[0.1, 0.2]"、"0.1,0.2" 与 JSON 数组。
// 空向量、非数字、NaN/Inf 均视为 MALFORMED。
func ParseEmbedding(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, malformed("empty embedding", nil)
	}

	var vec []float64
	if strings.HasPrefix(s, "[") && json.Unmarshal([]byte(s), &vec) == nil {
		return ValidateEmbedding(vec)
	}

	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"))
	if body == "" {
		return nil, malformed("empty embedding", nil)
	}
	parts := strings.Split(body, ",")
	vec = make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, malformed(fmt.Sprintf("bad component %q", p), err)
		}
		vec = append(vec, f)
	}
	return ValidateEmbedding(vec)
}

// ValidateEmbedding 检查向量非空且各分量有限。
func ValidateEmbedding(vec []float64) ([]float64, error) {
	if len(vec) == 0 {
		return nil, malformed("empty embedding", nil)
	}
	for _, f := range vec {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, malformed("non-finite component", nil)
		}
	}
	return vec, nil
}

func malformed(msg string, err error) error {
	return core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeMalformed, "embedding: "+msg, err)
}

// FormatEmbedding 以 "[f,f,...]" 形式编码向量，ParseEmbedding 可还原。
func FormatEmbedding(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// StoreEmbeddingAdapter 从 KeyValueStore 的 Hash 读取预计算的书籍向量，实现 core.EmbeddingStore。
// 单行无法解析时跳过该行并记录告警，不影响其余行。
type StoreEmbeddingAdapter struct {
	store   core.KeyValueStore
	Key     string
	Metrics *metrics.Metrics
}

var _ core.EmbeddingStore = (*StoreEmbeddingAdapter)(nil)

func NewStoreEmbeddingAdapter(s core.KeyValueStore, key string) *StoreEmbeddingAdapter {
	if key == "" {
		key = DefaultEmbeddingKey
	}
	return &StoreEmbeddingAdapter{store: s, Key: key}
}

func (a *StoreEmbeddingAdapter) BookEmbeddings(ctx context.Context) (map[int64][]float64, error) {
	rows, err := a.store.HGetAll(ctx, a.Key)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable,
			"embedding: read store", err)
	}

	log := logging.Ctx(ctx)
	out := make(map[int64][]float64, len(rows))
	skipped := 0
	for field, raw := range rows {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			skipped++
			log.Warn().Str("field", field).Msg("embedding row with non-numeric book id skipped")
			continue
		}
		vec, err := ParseEmbedding(string(raw))
		if err != nil {
			skipped++
			log.Warn().Int64("book_id", id).Err(err).Msg("malformed embedding row skipped")
			continue
		}
		out[id] = vec
	}
	a.Metrics.EmbeddingRowSkipped(skipped)
	return out, nil
}

// Put 写入一本书的向量。
func (a *StoreEmbeddingAdapter) Put(ctx context.Context, bookID int64, vec []float64) error {
	return a.store.HSet(ctx, a.Key, strconv.FormatInt(bookID, 10), []byte(FormatEmbedding(vec)))
}

// DefaultPopularKey 是热门榜 ZSet 的默认 key。
const DefaultPopularKey = "book:popular"

// PublishPopular 把热门榜写入有序集合。ids 按名次排列，score 取名次倒序，
// 读取时 ZRange 的顺序与 ids 完全一致。
func PublishPopular(ctx context.Context, kv core.KeyValueStore, key string, ids []int64) error {
	if key == "" {
		key = DefaultPopularKey
	}
	if err := kv.Delete(ctx, key); err != nil {
		return err
	}
	n := len(ids)
	for i, id := range ids {
		if err := kv.ZAdd(ctx, key, float64(n-i), strconv.FormatInt(id, 10)); err != nil {
			return fmt.Errorf("publish popular: %w", err)
		}
	}
	return nil
}

// ReadPopular 读取热门榜前 limit 个书籍 ID，成员无法解析时跳过。
func ReadPopular(ctx context.Context, kv core.KeyValueStore, key string, limit int) ([]int64, error) {
	if key == "" {
		key = DefaultPopularKey
	}
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	members, err := kv.ZRange(ctx, key, 0, stop)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
