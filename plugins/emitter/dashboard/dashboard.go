// Package dashboard 渲染单页 HTML 仪表盘（rhino-features.html）：汇总卡片、特性卡片与来源过滤。
package dashboard

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"

	"featuretrack/internal/report"
	"featuretrack/pkg/contract"
)

// DefaultArtifact: 默认工件名。
const DefaultArtifact = "rhino-features.html"

//go:embed dashboard.html.tmpl
var pageTemplate string

// Options: 仪表盘选项。
type Options struct {
	Artifact string `json:"artifact"`
	Title    string `json:"title"`
}

// Emitter 产出单个 HTML 工件；模板在构造时解析一次。
type Emitter struct {
	opts Options
	tmpl *template.Template
	now  func() time.Time
}

func New(opts *Options) (*Emitter, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if strings.TrimSpace(o.Artifact) == "" {
		o.Artifact = DefaultArtifact
	}
	if o.Title == "" {
		o.Title = "Rhino JavaScript Engine - Feature Dashboard"
	}
	tmpl, err := template.New("dashboard").Funcs(funcMap()).Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("dashboard: parse template: %w", err)
	}
	return &Emitter{opts: o, tmpl: tmpl, now: time.Now}, nil
}

func funcMap() template.FuncMap {
	fm := sprig.HtmlFuncMap()
	for name, fn := range report.Funcs() {
		fm[name] = fn
	}
	fm["deref"] = func(b *bool) bool { return b != nil && *b }
	fm["sources"] = Sources
	fm["bandClass"] = BandClass
	return fm
}

// WithClock 替换时钟（测试使用）。
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

var _ contract.Emitter = (*Emitter)(nil)

func (e *Emitter) Artifact() contract.ArtifactID { return contract.ArtifactID(e.opts.Artifact) }

func (e *Emitter) Emit(ctx context.Context, model *contract.FeatureModel) (io.Reader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if model == nil {
		return nil, fmt.Errorf("dashboard: nil model: %w", contract.ErrInvalidInput)
	}
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, report.New(model, e.opts.Title, e.now())); err != nil {
		return nil, fmt.Errorf("dashboard: execute: %w", err)
	}
	return &buf, nil
}

// Sources: 过滤按钮使用的数据来源标记。
func Sources(f report.FeatureRow) string {
	switch {
	case f.HasTest262 && f.HasCompat:
		return "both"
	case f.HasTest262:
		return "test262"
	}
	return "compat"
}

// BandClass: ≥95 supported，≥50 partial，其余 unsupported。
func BandClass(r *float64) string {
	switch {
	case r == nil:
		return "unsupported"
	case *r >= 95:
		return "supported"
	case *r >= 50:
		return "partial"
	}
	return "unsupported"
}
