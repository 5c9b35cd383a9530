package core

import "context"

// TextProcessor 是分词/词形还原服务的领域接口。
//
// 约定：
//   - 对固定输入与固定服务版本结果确定
//   - 可能失败（网络/服务错误），失败时调用方视为"没有 token"，不得用空结果继续计算
type TextProcessor interface {
	// Tokenize 对单段文本分词、词形还原、去停用词
	Tokenize(ctx context.Context, text string) ([]string, error)

	// LemmatizeAll 批量处理 id -> text
	LemmatizeAll(ctx context.Context, texts map[int64]string) (map[int64][]string, error)
}

// Embedder 是文本向量服务的领域接口：text -> 定长稠密向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbeddingStore 是书籍向量存储（离线预计算，核心只读）。
// 单行数据无法解析时跳过该行，不影响其余行。
type EmbeddingStore interface {
	BookEmbeddings(ctx context.Context) (map[int64][]float64, error)
}
