// Package jsonreport 将 FeatureModel 渲染为机器可读的 JSON 报告（rhino-features.json）。
package jsonreport

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/highwayhash"

	"featuretrack/internal/compat"
	"featuretrack/pkg/contract"
)

// DefaultArtifact: 默认工件名。
const DefaultArtifact = "rhino-features.json"

// 指纹密钥固定：同一模型在不同运行间得到相同指纹。
var fingerprintKey = []byte("featuretrack-model-fingerprint-k")

// Options: JSON 报告选项。
type Options struct {
	// Artifact: 输出工件名（相对输出目录）。
	Artifact string `json:"artifact"`
	// Engine: 报告标题中的引擎名。
	Engine string `json:"engine"`
	// Compact: true 时不缩进。
	Compact bool `json:"compact"`
	// OmitTimestamp: true 时不写 generated_at（便于比对）。
	OmitTimestamp bool `json:"omit_timestamp"`
}

// Report: 序列化形态。
type Report struct {
	Engine      string               `json:"engine"`
	GeneratedAt string               `json:"generated_at,omitempty"`
	Fingerprint string               `json:"fingerprint"`
	Summary     contract.Summary     `json:"summary"`
	Coverage    contract.Coverage    `json:"coverage"`
	Categories  []Category           `json:"categories"`
	Features    []Feature            `json:"features"`
	Diagnostics contract.Diagnostics `json:"diagnostics"`
}

// Category: 分类统计（附派生字段）。
type Category struct {
	Name     string   `json:"name"`
	Passed   uint     `json:"passed"`
	Failed   uint     `json:"failed"`
	Total    uint     `json:"total"`
	PassRate *float64 `json:"pass_rate"`
}

// Feature: 特性条目（附派生字段）。
type Feature struct {
	contract.FeatureEntry
	PassRate     *float64 `json:"pass_rate,omitempty"`
	VersionLabel string   `json:"version_label,omitempty"`
}

// Emitter 产出单个 JSON 工件。
type Emitter struct {
	opts Options
	now  func() time.Time
}

// New 构造 JSON 报告 Emitter；nil 选项使用默认值。
func New(opts *Options) (*Emitter, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if strings.TrimSpace(o.Artifact) == "" {
		o.Artifact = DefaultArtifact
	}
	if o.Engine == "" {
		o.Engine = "Rhino"
	}
	return &Emitter{opts: o, now: time.Now}, nil
}

// WithClock 替换时钟（测试使用）。
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

var _ contract.Emitter = (*Emitter)(nil)

func (e *Emitter) Artifact() contract.ArtifactID { return contract.ArtifactID(e.opts.Artifact) }

// Emit 构造 Report 并编码；model 为 nil 时返回 ErrInvalidInput。
func (e *Emitter) Emit(ctx context.Context, model *contract.FeatureModel) (io.Reader, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if model == nil {
		return nil, fmt.Errorf("jsonreport: nil model: %w", contract.ErrInvalidInput)
	}
	fp, err := Fingerprint(model)
	if err != nil {
		return nil, err
	}
	rep := Build(model)
	rep.Engine = e.opts.Engine
	rep.Fingerprint = fp
	if !e.opts.OmitTimestamp {
		rep.GeneratedAt = e.now().UTC().Format(time.RFC3339)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if !e.opts.Compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rep); err != nil {
		return nil, fmt.Errorf("jsonreport: encode: %w", err)
	}
	return &buf, nil
}

// Build 将模型展开为 Report（不含 Engine/时间/指纹）。
func Build(model *contract.FeatureModel) Report {
	rep := Report{
		Summary:     model.Summary,
		Coverage:    model.Coverage,
		Categories:  make([]Category, 0, len(model.Categories)),
		Features:    make([]Feature, 0, len(model.Features)),
		Diagnostics: model.Diagnostics,
	}
	for _, c := range model.Categories {
		rep.Categories = append(rep.Categories, Category{
			Name:     c.Category,
			Passed:   c.Passed,
			Failed:   c.Failed,
			Total:    c.Total(),
			PassRate: c.PassRate(),
		})
	}
	for _, f := range model.Features {
		v := Feature{FeatureEntry: f}
		if f.Test262 != nil {
			v.PassRate = f.Test262.PassRate()
		}
		if f.Compat != nil && f.Compat.Kind == contract.Resolved {
			v.VersionLabel = compat.VersionLabel(f.Compat.Version)
		}
		rep.Features = append(rep.Features, v)
	}
	return rep
}

// Fingerprint 返回模型内容的 64 位 HighwayHash（十六进制）。
// 仅依赖模型内容：相同输入的两次运行指纹一致。
func Fingerprint(model *contract.FeatureModel) (string, error) {
	data, err := json.Marshal(model)
	if err != nil {
		return "", fmt.Errorf("jsonreport: fingerprint: %w", err)
	}
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		return "", fmt.Errorf("jsonreport: fingerprint: %w", err)
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
