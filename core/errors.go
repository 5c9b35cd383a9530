package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 可包装底层错误（Err），支持 errors.Is / errors.As
//
// 使用场景：
//   - Store 错误：NOT_FOUND, NOT_SUPPORTED
//   - 文本/向量服务错误：UNAVAILABLE
//   - 输入错误：EMPTY_INPUT
//   - 存储数据错误：MALFORMED（单行跳过）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "UNAVAILABLE"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "text", "embedding"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// GetDomainError 获取错误链上的 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建包装底层错误的领域错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 资源不存在
	ErrorCodeUnavailable        = "UNAVAILABLE"         // 外部服务不可用/返回空
	ErrorCodeInvalidInput       = "INVALID_INPUT"       // 输入无效
	ErrorCodeEmptyInput         = "EMPTY_INPUT"         // 查询为空、书籍不存在、无标签
	ErrorCodeInsufficientSignal = "INSUFFICIENT_SIGNAL" // 共同评分不足
	ErrorCodeMalformed          = "MALFORMED"           // 存储数据无法解析
)

// 模块名称常量
const (
	ModuleStore     = "store"     // 存储模块
	ModuleText      = "text"      // 分词/词形还原服务
	ModuleEmbedding = "embedding" // 向量服务与向量存储
	ModuleRecall    = "recall"    // 推荐算法
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsEmptyInput 检查错误是否为 EMPTY_INPUT
func IsEmptyInput(err error) bool { return hasCode(err, ErrorCodeEmptyInput) }

// IsMalformed 检查错误是否为 MALFORMED
func IsMalformed(err error) bool { return hasCode(err, ErrorCodeMalformed) }

// 常用错误
var (
	ErrEmptyQuery      = NewDomainError(ModuleRecall, ErrorCodeEmptyInput, "recall: empty query")
	ErrNoTokens        = NewDomainError(ModuleText, ErrorCodeUnavailable, "text: tokenization produced no tokens")
	ErrEmptyEmbedding  = NewDomainError(ModuleEmbedding, ErrorCodeUnavailable, "embedding: empty embedding")
	ErrBookNotFound    = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: book not found")
	ErrTextUnavailable = NewDomainError(ModuleText, ErrorCodeUnavailable, "text: service unavailable")
)
