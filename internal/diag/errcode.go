package diag

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"

	"featuretrack/pkg/contract"
)

// Code 是最小错误分类代码，仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNoData    Code = "no_data"
	CodeAcquire   Code = "acquire"
	CodeInvariant Code = "invariant"
	CodeIO        Code = "io"
	CodeCancel    Code = "cancel"
	CodeConfig    Code = "config"
)

// ErrConfig 标记配置阶段的错误；由调用方包装后交给 Classify。
var ErrConfig = errors.New("config error")

// Classify 将错误归为最小分类；仅依赖哨兵与标准库错误类型。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, ErrConfig) {
		return CodeConfig
	}
	if errors.Is(err, contract.ErrNoData) {
		return CodeNoData
	}
	var xerr *exec.ExitError
	if errors.Is(err, contract.ErrAcquire) || errors.As(err, &xerr) {
		return CodeAcquire
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrDocumentInvalid) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}
