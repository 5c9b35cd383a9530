package core

// Status 是一次推荐请求的结果状态。
type Status string

const (
	StatusOK     Status = "ok"     // 正常（可能为空列表，例如没有相似用户）
	StatusEmpty  Status = "empty"  // 输入为空：空查询、未知书籍、无标签
	StatusFailed Status = "failed" // 外部服务失败，无法生成推荐
)

// Result 是对外的推荐结果：成功带值，或失败带原因。
// 调用方不应把 StatusFailed 当作"0 分"处理。
type Result struct {
	Books  []*Book `json:"books"`
	Status Status  `json:"status"`
	Reason string  `json:"reason,omitempty"`
}

// OK 构造成功结果。
func OK(books []*Book) Result {
	return Result{Books: books, Status: StatusOK}
}

// ResultFromError 将错误映射为结果状态：EMPTY_INPUT -> StatusEmpty，其余 -> StatusFailed。
func ResultFromError(err error) Result {
	if err == nil {
		return Result{Status: StatusOK}
	}
	if IsEmptyInput(err) || IsNotFound(err) {
		return Result{Status: StatusEmpty, Reason: err.Error()}
	}
	return Result{Status: StatusFailed, Reason: "could not generate recommendations: " + err.Error()}
}

// Failed 报告结果是否为失败。
func (r Result) Failed() bool { return r.Status == StatusFailed }
