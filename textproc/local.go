package textproc

import (
	"context"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	"github.com/rushteam/bookrec/core"
)

// Local 是离线分词器：prose 切词、转小写、只保留字母数字、去停用词。
// 不做词形还原与向量化，适合 CLI、测试与标签文本。
type Local struct {
	// Stopwords 为 nil 时使用内置英文停用词表
	Stopwords map[string]struct{}
}

var _ core.TextProcessor = (*Local)(nil)

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) stopwords() map[string]struct{} {
	if l.Stopwords != nil {
		return l.Stopwords
	}
	return englishStopwords
}

func (l *Local) Tokenize(_ context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}
	doc, err := prose.NewDocument(strings.ToLower(text),
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleText, core.ErrorCodeUnavailable, "text: tokenize", err)
	}

	stop := l.stopwords()
	tokens := doc.Tokens()
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		word := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, tok.Text)
		if word == "" {
			continue
		}
		if _, ok := stop[word]; ok {
			continue
		}
		out = append(out, word)
	}
	return out, nil
}

func (l *Local) LemmatizeAll(ctx context.Context, texts map[int64]string) (map[int64][]string, error) {
	out := make(map[int64][]string, len(texts))
	for id, text := range texts {
		tokens, err := l.Tokenize(ctx, text)
		if err != nil {
			return nil, err
		}
		out[id] = tokens
	}
	return out, nil
}
