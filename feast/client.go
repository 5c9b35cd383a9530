package feast

import (
	"context"
	"time"
)

// Client 是 Feast Feature Store 的在线特征客户端接口。
//
// bookrec 只使用在线存储：书籍向量由离线任务物化到 Feast，
// 推荐时按 book_id 批量读取。参考：https://github.com/feast-dev/feast
type Client interface {
	// GetOnlineFeatures 获取在线特征
	//
	//   - Features: 特征名称列表，例如 ["book_embeddings:embedding"]
	//   - EntityRows: 实体行，例如 [{"book_id": 1}]
	GetOnlineFeatures(ctx context.Context, req *GetOnlineFeaturesRequest) (*GetOnlineFeaturesResponse, error)

	// Close 关闭客户端连接
	Close() error
}

// GetOnlineFeaturesRequest 获取在线特征请求
type GetOnlineFeaturesRequest struct {
	Features []string

	EntityRows []map[string]interface{}

	// Project 项目名称（可选，默认使用客户端的 Project）
	Project string
}

// GetOnlineFeaturesResponse 获取在线特征响应，FeatureVectors 与 EntityRows 一一对应。
type GetOnlineFeaturesResponse struct {
	FeatureVectors []FeatureVector
}

// FeatureVector 特征向量
type FeatureVector struct {
	// Values 特征值，key 为特征名称。
	// 列表类型为 []float64，标量数值为 float64，字符串保持 string。
	Values map[string]interface{}

	// EntityRow 对应的实体行
	EntityRow map[string]interface{}
}

// Config Feast 客户端配置
type Config struct {
	// Endpoint gRPC 地址，例如 "localhost:6565"，可带 grpc:// 前缀
	Endpoint string `yaml:"endpoint"`

	Project string `yaml:"project" validate:"required_with=Endpoint"`

	// Token 非空时使用静态 Token 认证
	Token string `yaml:"token"`

	Timeout time.Duration `yaml:"timeout"`

	// Feature 书籍向量的特征引用
	Feature string `yaml:"feature"`

	// EntityKey 实体列名
	EntityKey string `yaml:"entity_key"`
}

// Enabled 表示是否配置了 Feast。
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}
