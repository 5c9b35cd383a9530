package recommend

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/bookrec/feast"
	"github.com/rushteam/bookrec/pkg/logging"
	"github.com/rushteam/bookrec/recall"
	"github.com/rushteam/bookrec/store"
	"github.com/rushteam/bookrec/textproc"
)

// Config 是 bookrec 的应用配置，从 YAML 加载。
//
//	catalog: ./catalog.yaml
//	text:
//	  endpoint: http://localhost:5000
//	  timeout: 5s
//	content:
//	  weights: {tfidf: 0.5, embedding: 0.5}
//	  corpus_filter: book.ratings_count > 1000
type Config struct {
	// Catalog 是书目/评分快照文件（YAML）
	Catalog string `yaml:"catalog"`

	// Pipeline 是可选的 Pipeline 配置文件，供 Engine.Run 使用
	Pipeline string `yaml:"pipeline"`

	Logging logging.Config      `yaml:"logging"`
	Text    textproc.HTTPConfig `yaml:"text"`
	Redis   store.RedisConfig   `yaml:"redis"`
	Feast   feast.Config        `yaml:"feast"`

	// EmbeddingKey 是 Redis 中书籍向量 Hash 的 key
	EmbeddingKey string `yaml:"embedding_key"`

	CF      CFConfig      `yaml:"cf"`
	Content ContentConfig `yaml:"content"`
	Tag     TagConfig     `yaml:"tag"`
	Popular PopularConfig `yaml:"popular"`
	Home    HomeConfig    `yaml:"home"`
}

type CFConfig struct {
	MinCommonItems int `yaml:"min_common_items" validate:"gte=1"`
	MinRating      int `yaml:"min_rating" validate:"gte=1,lte=5"`
	Limit          int `yaml:"limit" validate:"gte=1"`
}

type ContentConfig struct {
	Weights  recall.Weights `yaml:"weights"`
	PoolSize int            `yaml:"pool_size" validate:"gte=1"`
	Limit    int            `yaml:"limit" validate:"gte=1,ltefield=PoolSize"`
	TFScheme string         `yaml:"tf_scheme" validate:"omitempty,oneof=raw sublinear"`

	// CorpusFilter 是参与内容推荐的书籍表达式，例如 book.ratings_count > 1000
	CorpusFilter string `yaml:"corpus_filter"`
}

type TagConfig struct {
	TopN     int    `yaml:"top_n" validate:"gte=1"`
	TFScheme string `yaml:"tf_scheme" validate:"omitempty,oneof=raw sublinear"`
}

type PopularConfig struct {
	Limit int `yaml:"limit" validate:"gte=1"`

	// Key 是离线热门榜 ZSet 的 key，配置了 Redis 时 publish 命令写入
	Key string `yaml:"key"`
}

type HomeConfig struct {
	// ColdUserThreshold 是展示协同推荐所需的最少评分数
	ColdUserThreshold int `yaml:"cold_user_threshold" validate:"gte=0"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Logging:      logging.Config{Level: "info", Format: "json"},
		Text:         textproc.DefaultHTTPConfig(""),
		EmbeddingKey: store.DefaultEmbeddingKey,
		Feast: feast.Config{
			Feature:   feast.DefaultFeature,
			EntityKey: feast.DefaultEntityKey,
		},
		CF:      CFConfig{MinCommonItems: 3, MinRating: 4, Limit: 5},
		Content: ContentConfig{Weights: recall.DefaultWeights, PoolSize: 20, Limit: 10, TFScheme: "raw"},
		Tag:     TagConfig{TopN: 10, TFScheme: "raw"},
		Popular: PopularConfig{Limit: 5, Key: store.DefaultPopularKey},
		Home:    HomeConfig{ColdUserThreshold: 3},
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(validateContent, ContentConfig{})
	})
	return validate
}

// validateContent 拒绝全 0 的内容推荐权重。
func validateContent(sl validator.StructLevel) {
	c := sl.Current().Interface().(ContentConfig)
	if c.Weights.IsZero() {
		sl.ReportError(c.Weights, "Weights", "weights", "nonzero_weights", "")
	}
}

// Validate 校验配置。
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig 读取 YAML 配置，未出现的字段保留默认值。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 从内存中的 YAML 解析配置。
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
