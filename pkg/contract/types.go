package contract

// FileID: 逻辑文档ID（通常为路径或 URL，需规范化，跨平台一致）。
type FileID string

// Outcome: 单条一致性测试的结果。
type Outcome int

const (
	Pass Outcome = iota
	Fail
)

func (o Outcome) String() string {
	if o == Fail {
		return "fail"
	}
	return "pass"
}

// TestRecord: Source A 中的一条测试结果（不可变）。
// 约束：Category 与 FeatureKey 均为 Path 的确定性函数。
type TestRecord struct {
	Path       string  `json:"path"`
	Category   string  `json:"category"`
	FeatureKey string  `json:"feature_key"`
	Outcome    Outcome `json:"outcome"`
}

// CategoryStats: 按分类累计的通过/失败计数。
type CategoryStats struct {
	Category string `json:"category"`
	Passed   uint   `json:"passed"`
	Failed   uint   `json:"failed"`
}

// Total = Passed + Failed。
func (s CategoryStats) Total() uint { return s.Passed + s.Failed }

// PassRate 见 PassRate 函数；Total 为 0 时返回 nil。
func (s CategoryStats) PassRate() *float64 { return PassRate(s.Passed, s.Failed) }

// FeatureStats: 按 FeatureKey 累计的统计，形状与 CategoryStats 相同。
type FeatureStats struct {
	Key    string `json:"key"`
	Passed uint   `json:"passed"`
	Failed uint   `json:"failed"`
}

func (s FeatureStats) Total() uint { return s.Passed + s.Failed }

func (s FeatureStats) PassRate() *float64 { return PassRate(s.Passed, s.Failed) }

// CompatKind: CompatResult 的活动形态。
type CompatKind int

const (
	Unresolved CompatKind = iota
	Resolved
	Partial
)

func (k CompatKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Partial:
		return "partial"
	default:
		return "unresolved"
	}
}

// Subtest: 命名子项的解析结果。
type Subtest struct {
	Name      string `json:"name"`
	Supported bool   `json:"supported"`
	Version   string `json:"version"`
}

// CompatResult: 兼容矩阵中单个特性的解析结果（标签联合）。
// - Resolved: Supported/Version 有效；
// - Partial:  Subtests 有效（文档顺序）；
// - Unresolved: 仅作为解码结果出现，加载器会丢弃，不进入模型。
type CompatResult struct {
	Kind      CompatKind `json:"kind"`
	Supported bool       `json:"supported,omitempty"`
	Version   string     `json:"version,omitempty"`
	Subtests  []Subtest  `json:"subtests,omitempty"`
}

// SupportedCount 返回受支持的子项数；Resolved 视为单一子项。
func (c CompatResult) SupportedCount() (supported, total int) {
	switch c.Kind {
	case Resolved:
		if c.Supported {
			return 1, 1
		}
		return 0, 1
	case Partial:
		for _, s := range c.Subtests {
			if s.Supported {
				supported++
			}
		}
		return supported, len(c.Subtests)
	}
	return 0, 0
}

// Good: Resolved 且受支持，或 Partial 且全部子项受支持。
func (c CompatResult) Good() bool {
	switch c.Kind {
	case Resolved:
		return c.Supported
	case Partial:
		s, t := c.SupportedCount()
		return s == t
	}
	return false
}

// FeatureEntry: 统一模型中的一条特性记录。
// Agreement 仅在 Test262 与 Compat 同时存在时非 nil。
type FeatureEntry struct {
	Name         string        `json:"name"`
	Key          string        `json:"key,omitempty"`
	CompatName   string        `json:"compat_name,omitempty"`
	Edition      string        `json:"edition,omitempty"`
	Suite        string        `json:"suite,omitempty"`
	Test262      *FeatureStats `json:"test262,omitempty"`
	Compat       *CompatResult `json:"compat,omitempty"`
	Agreement    *bool         `json:"agreement,omitempty"`
	Status       string        `json:"status,omitempty"`
	CompatStatus string        `json:"compat_status,omitempty"`
}

// CompatOnly 报告该条目是否只有兼容矩阵一侧。
func (e FeatureEntry) CompatOnly() bool { return e.Test262 == nil && e.Compat != nil }

// Summary: 全局汇总（所有分类之和）。
type Summary struct {
	TotalTests  uint     `json:"total_tests"`
	PassedTests uint     `json:"passed_tests"`
	FailedTests uint     `json:"failed_tests"`
	PassRate    *float64 `json:"pass_rate"`
}

// Coverage: 两侧数据覆盖与一致性统计。
type Coverage struct {
	Features        int      `json:"features"`
	Test262Features int      `json:"test262_features"`
	CompatFeatures  int      `json:"compat_features"`
	Both            int      `json:"both"`
	Agreements      int      `json:"agreements"`
	AgreementRate   *float64 `json:"agreement_rate"`
	CompatSupported int      `json:"compat_supported"`
	CompatPartial   int      `json:"compat_partial"`
}

// SkippedDocument: 无法解析而被跳过的兼容矩阵文档。
type SkippedDocument struct {
	Suite  string `json:"suite"`
	Reason string `json:"reason"`
}

// Diagnostics: 局部吸收的数据问题，仅用于诊断。
type Diagnostics struct {
	SkippedLines     int               `json:"skipped_lines"`
	SkippedDocuments []SkippedDocument `json:"skipped_documents,omitempty"`
	DroppedFeatures  int               `json:"dropped_features"`
}

// FeatureModel: 聚合结果（构建后只读）。
type FeatureModel struct {
	Categories  []CategoryStats `json:"categories"`
	Features    []FeatureEntry  `json:"features"`
	Summary     Summary         `json:"summary"`
	Coverage    Coverage        `json:"coverage"`
	Diagnostics Diagnostics     `json:"diagnostics"`
	// Records: 保留用于追溯；不参与序列化。
	Records []TestRecord `json:"-"`
}

// Document: 单个套件的原始兼容矩阵文档。
type Document struct {
	Suite string
	Data  []byte
}
