// Package aggregate 将测试结果与兼容矩阵合并为统一的 FeatureModel。
//
// 纯函数：不做 I/O，不持有状态；相同输入总是得到深度相等的模型。
package aggregate

import (
	"sort"

	"featuretrack/internal/compat"
	"featuretrack/internal/mapping"
	"featuretrack/internal/results"
	"featuretrack/pkg/contract"
)

// CompatOnlyPrefix: 无映射的兼容特性名前缀。
const CompatOnlyPrefix = "compat:"

// agreementThreshold: test262 通过率达到该值视为"支持"。
const agreementThreshold = 50.0

// Options: 聚合选项。
type Options struct {
	// Versions: 版本优先级；为空时使用 compat.DefaultVersions。
	Versions []string
}

// Aggregate 解析两类输入并合并。两侧均无有效数据时返回 contract.ErrNoData。
func Aggregate(resultsText string, docs []contract.Document, table *mapping.Table, opts Options) (*contract.FeatureModel, error) {
	return Build(results.Parse(resultsText), compat.Load(docs, opts.Versions), table)
}

// Build 合并已解析的输入；供流式读取结果文件的调用方使用。
func Build(res *results.Result, m *compat.Matrix, table *mapping.Table) (*contract.FeatureModel, error) {
	if (res == nil || res.Empty()) && m.Len() == 0 {
		return nil, contract.ErrNoData
	}
	if res == nil {
		res = results.Parse("")
	}
	if table == nil {
		table = mapping.Default()
	}

	model := &contract.FeatureModel{Records: res.Records}
	names := make(map[string]struct{})
	used := make(map[string]struct{})
	add := func(e contract.FeatureEntry) {
		if _, dup := names[e.Name]; dup {
			return
		}
		names[e.Name] = struct{}{}
		model.Features = append(model.Features, e)
	}

	for _, fs := range res.Features {
		fs := fs
		e := contract.FeatureEntry{
			Name:    fs.Key,
			Key:     fs.Key,
			Edition: table.Edition(fs.Key),
			Test262: &fs,
			Status:  Status(fs.PassRate()),
		}
		if cname, ok := table.Forward(fs.Key); ok {
			e.CompatName = cname
			if cf, ok := m.Lookup(cname); ok {
				attachCompat(&e, cf)
				used[cname] = struct{}{}
			}
		}
		add(e)
	}

	if m != nil {
		for _, cf := range m.Features {
			if _, ok := used[cf.Name]; ok {
				continue
			}
			e := contract.FeatureEntry{CompatName: cf.Name}
			if key, ok := table.Reverse(cf.Name); ok {
				e.Name, e.Key, e.Edition = key, key, table.Edition(key)
			} else {
				e.Name = CompatOnlyPrefix + cf.Name
			}
			attachCompat(&e, cf)
			add(e)
		}
		model.Diagnostics.SkippedDocuments = m.Skipped
		model.Diagnostics.DroppedFeatures = m.Dropped
	}
	model.Diagnostics.SkippedLines = res.Skipped

	model.Categories = rollup(res.Categories)
	model.Summary = summarize(model.Categories)
	model.Coverage = coverage(model.Features)
	return model, nil
}

func attachCompat(e *contract.FeatureEntry, cf compat.Feature) {
	r := cf.Result
	e.Compat = &r
	e.Suite = cf.Suite
	e.CompatStatus = CompatStatus(r)
	if e.Test262 != nil {
		a := Agreement(e.Test262.PassRate(), r)
		e.Agreement = &a
	}
}

// Agreement 判定两侧结论是否一致。
func Agreement(passRate *float64, c contract.CompatResult) bool {
	t262Good := passRate != nil && *passRate >= agreementThreshold
	return t262Good == c.Good()
}

func rollup(in []contract.CategoryStats) []contract.CategoryStats {
	out := append([]contract.CategoryStats(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func summarize(cats []contract.CategoryStats) contract.Summary {
	var s contract.Summary
	for _, c := range cats {
		s.PassedTests += c.Passed
		s.FailedTests += c.Failed
	}
	s.TotalTests = s.PassedTests + s.FailedTests
	s.PassRate = contract.PassRate(s.PassedTests, s.FailedTests)
	return s
}

func coverage(entries []contract.FeatureEntry) contract.Coverage {
	c := contract.Coverage{Features: len(entries)}
	for _, e := range entries {
		if e.Test262 != nil {
			c.Test262Features++
		}
		if e.Compat != nil {
			c.CompatFeatures++
			switch e.CompatStatus {
			case CompatSupported:
				c.CompatSupported++
			case CompatPartial:
				c.CompatPartial++
			}
		}
		if e.Agreement != nil {
			c.Both++
			if *e.Agreement {
				c.Agreements++
			}
		}
	}
	c.AgreementRate = contract.Ratio(c.Agreements, c.Both)
	return c
}
