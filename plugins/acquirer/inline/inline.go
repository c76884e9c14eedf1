// Package inline 提供配置内联的兼容矩阵文档（离线运行与测试）。
package inline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"featuretrack/pkg/contract"
)

// Doc: 单个内联文档。
type Doc struct {
	Suite string          `json:"suite"`
	Data  json.RawMessage `json:"data"`
}

// Options: 内联文档列表（顺序即加载优先级）。
type Options struct {
	Documents []Doc `json:"documents"`
	// FailFirst: 前 N 次 Acquire 返回 ErrAcquire，用于演练失败路径。
	FailFirst int `json:"fail_first,omitempty"`
}

// Acquirer 返回固定的文档集合。
type Acquirer struct {
	docs      []contract.Document
	failFirst int32
	calls     atomic.Int32
}

// New 构造内联收集器；套件名不可为空或重复。
func New(opts *Options) (*Acquirer, error) {
	a := &Acquirer{}
	if opts == nil {
		return a, nil
	}
	seen := map[string]bool{}
	for i, d := range opts.Documents {
		s := strings.TrimSpace(d.Suite)
		if s == "" {
			return nil, fmt.Errorf("inline: documents[%d]: suite required: %w", i, contract.ErrInvalidInput)
		}
		if seen[s] {
			return nil, fmt.Errorf("inline: duplicate suite %q: %w", s, contract.ErrInvalidInput)
		}
		seen[s] = true
		a.docs = append(a.docs, contract.Document{Suite: s, Data: append([]byte(nil), d.Data...)})
	}
	a.failFirst = int32(opts.FailFirst)
	return a, nil
}

var _ contract.Acquirer = (*Acquirer)(nil)

// Acquire 返回文档副本。
func (a *Acquirer) Acquire(ctx context.Context) ([]contract.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n := a.calls.Add(1); n <= a.failFirst {
		return nil, fmt.Errorf("%w: inline: simulated failure %d/%d", contract.ErrAcquire, n, a.failFirst)
	}
	out := make([]contract.Document, len(a.docs))
	for i, d := range a.docs {
		out[i] = contract.Document{Suite: d.Suite, Data: append([]byte(nil), d.Data...)}
	}
	return out, nil
}
