package contract

import "errors"

// 最小错误分类（哨兵）。调用方使用 errors.Is 判定，不做字符串匹配。
var (
	// ErrNoData: 两个输入源解析后均为空；通常意味着上游获取失败。
	ErrNoData = errors.New("no data")
	// ErrAcquire: 获取兼容矩阵文档失败（克隆/构建/运行外部工具）。
	ErrAcquire = errors.New("acquire failed")
	// ErrDocumentInvalid: 兼容矩阵文档不是 JSON 对象。
	ErrDocumentInvalid = errors.New("document invalid")
	// ErrInvalidInput: 输入参数不满足约束。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
