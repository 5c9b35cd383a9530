// Package metrics 提供推荐链路的 Prometheus 指标。
//
// 指标注册在调用方传入的 Registerer 上，nil *Metrics 的所有方法都是空操作：
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	m.ObserveRequest("content", core.StatusOK, time.Since(start))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rushteam/bookrec/core"
)

type Metrics struct {
	// RequestsTotal 按推荐器与结果状态计数
	RequestsTotal *prometheus.CounterVec
	// RequestDuration 推荐请求耗时
	RequestDuration *prometheus.HistogramVec
	// TextServiceErrors 分词/向量服务失败次数，op = tokenize / lemmatize_all / embed
	TextServiceErrors *prometheus.CounterVec
	// EmbeddingRowsSkipped 无法解析而被跳过的向量行
	EmbeddingRowsSkipped prometheus.Counter
}

// New 在 reg 上注册全部指标。reg 为 nil 时使用独立的 Registry（不对外暴露）。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrec_recommend_requests_total",
				Help: "Total number of recommendation requests",
			},
			[]string{"recommender", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookrec_recommend_duration_seconds",
				Help:    "Duration of recommendation requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"recommender"},
		),
		TextServiceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrec_text_service_errors_total",
				Help: "Total number of failed calls to the text processing service",
			},
			[]string{"op"},
		),
		EmbeddingRowsSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "bookrec_embedding_rows_skipped_total",
				Help: "Total number of stored embedding rows skipped as malformed",
			},
		),
	}
}

// ObserveRequest 记录一次推荐请求。
func (m *Metrics) ObserveRequest(recommender string, status core.Status, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(recommender, string(status)).Inc()
	m.RequestDuration.WithLabelValues(recommender).Observe(d.Seconds())
}

// TextServiceError 记录一次文本服务失败。
func (m *Metrics) TextServiceError(op string) {
	if m == nil {
		return
	}
	m.TextServiceErrors.WithLabelValues(op).Inc()
}

// EmbeddingRowSkipped 记录 n 条被跳过的向量行。
func (m *Metrics) EmbeddingRowSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EmbeddingRowsSkipped.Add(float64(n))
}
