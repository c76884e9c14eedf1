// Package markdown 渲染 FEATURES.md：汇总、按版本分组的特性表、分类统计与交叉对照。
package markdown

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"featuretrack/internal/report"
	"featuretrack/pkg/contract"
)

// DefaultArtifact: 默认工件名。
const DefaultArtifact = "FEATURES.md"

//go:embed features.md.tmpl
var defaultTemplate string

// Options: Markdown 报告选项。
type Options struct {
	Artifact string `json:"artifact"`
	Title    string `json:"title"`
	// Template: 自定义模板文件；为空时使用内置模板。
	Template string `json:"template"`
}

// Emitter 产出单个 Markdown 工件。
type Emitter struct {
	opts Options
	tmpl *template.Template
	now  func() time.Time
}

// New 解析模板；模板语法错误返回 ErrInvalidInput。
func New(opts *Options) (*Emitter, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if strings.TrimSpace(o.Artifact) == "" {
		o.Artifact = DefaultArtifact
	}
	if o.Title == "" {
		o.Title = "Rhino Feature Documentation"
	}
	text := defaultTemplate
	if o.Template != "" {
		b, err := os.ReadFile(o.Template)
		if err != nil {
			return nil, fmt.Errorf("markdown: template: %w", err)
		}
		text = string(b)
	}
	tmpl, err := template.New("features.md").Funcs(funcMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("markdown: parse template: %v: %w", err, contract.ErrInvalidInput)
	}
	return &Emitter{opts: o, tmpl: tmpl, now: time.Now}, nil
}

func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	for name, fn := range report.Funcs() {
		fm[name] = fn
	}
	return fm
}

// WithClock 替换时钟（测试使用）。
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

var _ contract.Emitter = (*Emitter)(nil)

func (e *Emitter) Artifact() contract.ArtifactID { return contract.ArtifactID(e.opts.Artifact) }

// Emit 执行模板；模型只读。
func (e *Emitter) Emit(ctx context.Context, model *contract.FeatureModel) (io.Reader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if model == nil {
		return nil, fmt.Errorf("markdown: nil model: %w", contract.ErrInvalidInput)
	}
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, report.New(model, e.opts.Title, e.now())); err != nil {
		return nil, fmt.Errorf("markdown: execute: %w", err)
	}
	return &buf, nil
}
