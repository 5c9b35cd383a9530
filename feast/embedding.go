package feast

import (
	"context"
	"fmt"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/store"
)

const (
	DefaultFeature   = "book_embeddings:embedding"
	DefaultEntityKey = "book_id"
	defaultBatchSize = 500
)

// EmbeddingStore 从 Feast 在线存储读取书籍向量，实现 core.EmbeddingStore。
// 特征值可以是 double/float 列表，也可以是 "[f, f, ...]" 文本；
// 缺失或无法解析的行跳过并计数。
type EmbeddingStore struct {
	Client Client
	Books  core.BookStore

	Feature   string
	EntityKey string
	BatchSize int

	Metrics *metrics.Metrics
}

var _ core.EmbeddingStore = (*EmbeddingStore)(nil)

func NewEmbeddingStore(client Client, books core.BookStore, cfg Config) *EmbeddingStore {
	return &EmbeddingStore{
		Client:    client,
		Books:     books,
		Feature:   cfg.Feature,
		EntityKey: cfg.EntityKey,
	}
}

func (s *EmbeddingStore) feature() string {
	if s.Feature == "" {
		return DefaultFeature
	}
	return s.Feature
}

func (s *EmbeddingStore) entityKey() string {
	if s.EntityKey == "" {
		return DefaultEntityKey
	}
	return s.EntityKey
}

func (s *EmbeddingStore) batchSize() int {
	if s.BatchSize <= 0 {
		return defaultBatchSize
	}
	return s.BatchSize
}

func (s *EmbeddingStore) BookEmbeddings(ctx context.Context) (map[int64][]float64, error) {
	books, err := s.Books.AllBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("feast: load books: %w", err)
	}

	log := logging.Ctx(ctx)
	feature := s.feature()
	out := make(map[int64][]float64, len(books))
	skipped := 0

	for start := 0; start < len(books); start += s.batchSize() {
		end := start + s.batchSize()
		if end > len(books) {
			end = len(books)
		}
		batch := books[start:end]
		rows := make([]map[string]interface{}, len(batch))
		for i, b := range batch {
			rows[i] = map[string]interface{}{s.entityKey(): b.ID}
		}

		resp, err := s.Client.GetOnlineFeatures(ctx, &GetOnlineFeaturesRequest{
			Features:   []string{feature},
			EntityRows: rows,
		})
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable,
				"embedding: feast online features", err)
		}
		if len(resp.FeatureVectors) != len(batch) {
			return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeUnavailable,
				fmt.Sprintf("embedding: feast returned %d rows for %d books", len(resp.FeatureVectors), len(batch)))
		}

		for i, fv := range resp.FeatureVectors {
			id := batch[i].ID
			vec, err := decode(fv.Values[feature])
			if err != nil {
				skipped++
				log.Warn().Int64("book_id", id).Err(err).Msg("malformed embedding row skipped")
				continue
			}
			out[id] = vec
		}
	}

	s.Metrics.EmbeddingRowSkipped(skipped)
	return out, nil
}

func decode(v interface{}) ([]float64, error) {
	switch val := v.(type) {
	case []float64:
		return store.ValidateEmbedding(val)
	case string:
		return store.ParseEmbedding(val)
	case nil:
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeMalformed, "embedding: missing feature value")
	default:
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeMalformed,
			fmt.Sprintf("embedding: unexpected feature type %T", v))
	}
}
