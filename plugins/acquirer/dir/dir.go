// Package dir 从已存在的目录收集兼容矩阵文档（不执行任何外部命令）。
package dir

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"featuretrack/pkg/contract"
)

// DefaultPattern: 默认文档匹配模式。
const DefaultPattern = "results-*.json"

// Options: 目录收集选项。
type Options struct {
	// Dir: 文档所在目录；为空时使用全局 compat_dir。
	Dir string `json:"dir"`
}

// Acquirer 通过 Reader 枚举目录下的文档；Reader 负责模式过滤与稳定顺序。
type Acquirer struct {
	reader contract.Reader
	dir    string
}

// New 构造目录收集器。
func New(reader contract.Reader, dir string) (*Acquirer, error) {
	if reader == nil {
		return nil, fmt.Errorf("dir acquirer: reader required: %w", contract.ErrInvalidInput)
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("dir acquirer: compat dir required: %w", contract.ErrInvalidInput)
	}
	return &Acquirer{reader: reader, dir: dir}, nil
}

var _ contract.Acquirer = (*Acquirer)(nil)

// Acquire 返回目录下匹配的文档（Reader 顺序）。读取失败以 ErrAcquire 包装。
func (a *Acquirer) Acquire(ctx context.Context) ([]contract.Document, error) {
	docs, err := Collect(ctx, a.reader, a.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: collect %s: %w", contract.ErrAcquire, a.dir, err)
	}
	return docs, nil
}

// Collect 读取 dir 下的全部文档；套件名由文件名推导。
func Collect(ctx context.Context, reader contract.Reader, dir string) ([]contract.Document, error) {
	var docs []contract.Document
	err := reader.Iterate(ctx, []string{dir}, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		docs = append(docs, contract.Document{Suite: SuiteName(string(id)), Data: b})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// SuiteName: results-es6.json -> es6；其它文件取去扩展名的基名。
func SuiteName(fileID string) string {
	base := path.Base(strings.ReplaceAll(fileID, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.TrimPrefix(base, "results-")
}
