package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Results: test262.properties 位置（文件、目录、URL 或 "-"）；多个按顺序累加。
	Results []string `json:"results"`
	// CompatDir: compat-table 检出目录（results-*.json 所在处）。
	CompatDir string `json:"compat_dir"`
	// OutputDir: 报告输出目录。
	OutputDir string `json:"output_dir"`
	// SkipAcquire: true 时不运行获取器，直接收集 CompatDir 中已有文档。
	SkipAcquire *bool `json:"skip_acquire,omitempty"`
	// Emit: 启用的报告（registry.Emitter 中的名称），按此顺序渲染。
	Emit []string `json:"emit"`
	// Mapping: 映射表覆盖文件（YAML）；为空使用内置表。
	Mapping string `json:"mapping"`
	// Concurrency: 渲染并发度；0 表示每个报告一个。
	Concurrency int `json:"concurrency"`
	// MaxRetries: 写出阶段 I/O 错误重试次数（>=0）。
	MaxRetries int     `json:"max_retries"`
	Compat     Compat  `json:"compat"`
	Logging    Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Compat: 兼容矩阵解析参数。
type Compat struct {
	// Versions: 版本标识优先级（新到旧），先命中者胜。
	Versions []string `json:"versions"`
	// SuiteOrder: 套件优先级；未列出的套件按字典序排在其后。
	SuiteOrder []string `json:"suite_order"`
	// Pattern: 文档文件名模式（doublestar）。
	Pattern string `json:"pattern"`
}

// Logging: 日志等级与文件目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	// Dir: 文件日志目录；为空时仅输出到控制台。
	Dir string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader   string `json:"reader"`
	Acquirer string `json:"acquirer"`
	Writer   string `json:"writer"`
}

// Options: 各组件的原样 JSON Options；Emitter 以报告名为键。
type Options struct {
	Reader   json.RawMessage            `json:"reader"`
	Acquirer json.RawMessage            `json:"acquirer"`
	Writer   json.RawMessage            `json:"writer"`
	Emitter  map[string]json.RawMessage `json:"emitter"`
}

// Skip 报告是否跳过获取阶段。
func (c Config) Skip() bool { return c.SkipAcquire != nil && *c.SkipAcquire }

// AcquirerName 返回实际使用的获取器名：跳过获取时为 dir。
func (c Config) AcquirerName() string {
	if c.Skip() {
		return "dir"
	}
	return effName(c.Components.Acquirer, Defaults().Components.Acquirer)
}
