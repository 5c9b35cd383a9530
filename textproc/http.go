// Package textproc 提供 core.TextProcessor / core.Embedder 的实现：
//   - HTTPClient：远程词形还原与 word2vec 向量服务，带超时与熔断
//   - Local：离线分词（prose），不做向量化
package textproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/bookrec/core"
	"github.com/rushteam/bookrec/metrics"
	"github.com/rushteam/bookrec/pkg/logging"
)

// HTTPConfig 是文本服务配置。Endpoint 为空表示不使用远程服务。
type HTTPConfig struct {
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`

	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold uint32 `yaml:"failure_threshold"`
	// OpenTimeout 熔断后多久进入半开状态
	OpenTimeout time.Duration `yaml:"open_timeout" validate:"gte=0"`
}

// DefaultHTTPConfig 返回默认配置。
func DefaultHTTPConfig(endpoint string) HTTPConfig {
	return HTTPConfig{
		Endpoint:         endpoint,
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

const (
	opTokenize     = "tokenize"
	opLemmatizeAll = "lemmatize_all"
	opEmbed        = "embed"
)

// HTTPClient 调用词形还原/向量服务：
//
//	POST /lemmatize        {"text": "..."}                              -> ["lemma", ...]
//	POST /batch_lemmatize  {"descriptions": [{"id": 1, "text": "..."}]} -> {"1": ["lemma", ...]}
//	POST /word2vec_embed   {"text": "..."}                              -> [0.1, ...]
//
// 任何失败（网络、非 2xx、解码、熔断打开）都返回 UNAVAILABLE。
type HTTPClient struct {
	base    string
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]

	Metrics *metrics.Metrics
}

var (
	_ core.TextProcessor = (*HTTPClient)(nil)
	_ core.Embedder      = (*HTTPClient)(nil)
)

// NewHTTPClient 创建客户端。hc 为 nil 时使用 http.DefaultClient。
func NewHTTPClient(cfg HTTPConfig, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	c := &HTTPClient{
		base:    strings.TrimRight(cfg.Endpoint, "/"),
		client:  hc,
		timeout: cfg.Timeout,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "text-service",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logging.With("textproc")
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return c
}

// BreakerState 返回熔断器当前状态。
func (c *HTTPClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *HTTPClient) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("textproc: encode %s: %w", op, err)
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		reqCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if id := logging.RequestID(ctx); id != "" {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return data, nil
	})
	if err == nil {
		if err = json.Unmarshal(raw, out); err != nil {
			err = fmt.Errorf("decode response: %w", err)
		}
	}
	if err != nil {
		c.Metrics.TextServiceError(op)
		logging.Ctx(ctx).Error().Str("op", op).Err(err).Msg("text service call failed")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return core.ErrTextUnavailable
		}
		module := core.ModuleText
		if op == opEmbed {
			module = core.ModuleEmbedding
		}
		return core.WrapDomainError(module, core.ErrorCodeUnavailable, module+": "+op+" failed", err)
	}
	return nil
}

type textRequest struct {
	Text string `json:"text"`
}

type batchItem struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type batchRequest struct {
	Descriptions []batchItem `json:"descriptions"`
}

// Tokenize 对文本做分词与词形还原。
func (c *HTTPClient) Tokenize(ctx context.Context, text string) ([]string, error) {
	var lemmas []string
	if err := c.post(ctx, opTokenize, "/lemmatize", textRequest{Text: text}, &lemmas); err != nil {
		return nil, err
	}
	return lemmas, nil
}

// LemmatizeAll 一次请求批量处理全部描述。
func (c *HTTPClient) LemmatizeAll(ctx context.Context, texts map[int64]string) (map[int64][]string, error) {
	out := make(map[int64][]string, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	req := batchRequest{Descriptions: make([]batchItem, 0, len(texts))}
	for id, text := range texts {
		req.Descriptions = append(req.Descriptions, batchItem{ID: id, Text: text})
	}

	var resp map[string][]string
	if err := c.post(ctx, opLemmatizeAll, "/batch_lemmatize", req, &resp); err != nil {
		return nil, err
	}
	for key, lemmas := range resp {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out[id] = lemmas
	}
	return out, nil
}

// Embed 返回文本的 word2vec 向量。
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float64, error) {
	var vec []float64
	if err := c.post(ctx, opEmbed, "/word2vec_embed", textRequest{Text: text}, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
