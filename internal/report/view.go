// Package report 将 FeatureModel 整理为模板友好的只读视图，供 markdown 与 dashboard 渲染。
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"featuretrack/internal/aggregate"
	"featuretrack/internal/compat"
	"featuretrack/pkg/contract"
)

// View: 模板数据根。
type View struct {
	Title       string
	GeneratedAt time.Time
	Summary     contract.Summary
	Coverage    contract.Coverage
	Diagnostics contract.Diagnostics
	Categories  []CategoryRow
	Features    []FeatureRow
	Editions    []EditionGroup
	// CrossRef: 两侧均有数据的条目（模型顺序）。
	CrossRef      []FeatureRow
	Disagreements int
	// CompatOnly: 未映射到 test262 的兼容矩阵条目。
	CompatOnly []FeatureRow
	Statuses   []string
}

// CategoryRow: 分类统计行。
type CategoryRow struct {
	Name     string
	Passed   uint
	Failed   uint
	Total    uint
	PassRate *float64
	Status   string
}

// FeatureRow: 特性行；HasTest262/HasCompat 指示两侧数据是否存在。
type FeatureRow struct {
	Name       string
	Key        string
	CompatName string
	Edition    string
	Suite      string
	HasTest262 bool
	Passed     uint
	Failed     uint
	Total      uint
	PassRate   *float64
	Status     string
	HasCompat  bool
	// CompatStatus: supported / partial / unsupported。
	CompatStatus string
	// CompatDetail: 版本标签或 "2/3 subtests"。
	CompatDetail string
	Subtests     []contract.Subtest
	Agreement    *bool
}

// EditionGroup: 同一版本（ES20xx）下的已映射特性。
type EditionGroup struct {
	Edition  string
	Features []FeatureRow
	// ByStatus: test262 分档计数。
	ByStatus        map[string]int
	CompatSupported int
	CompatTested    int
}

// New 构建视图；model 为只读。
func New(model *contract.FeatureModel, title string, now time.Time) *View {
	v := &View{
		Title:       title,
		GeneratedAt: now,
		Summary:     model.Summary,
		Coverage:    model.Coverage,
		Diagnostics: model.Diagnostics,
		Statuses:    aggregate.Statuses,
	}
	for _, c := range model.Categories {
		rate := c.PassRate()
		v.Categories = append(v.Categories, CategoryRow{
			Name: c.Category, Passed: c.Passed, Failed: c.Failed,
			Total: c.Total(), PassRate: rate, Status: aggregate.Status(rate),
		})
	}

	groups := map[string]*EditionGroup{}
	for _, e := range model.Features {
		row := featureRow(e)
		v.Features = append(v.Features, row)
		if row.Agreement != nil {
			v.CrossRef = append(v.CrossRef, row)
			if !*row.Agreement {
				v.Disagreements++
			}
		}
		if strings.HasPrefix(e.Name, aggregate.CompatOnlyPrefix) {
			v.CompatOnly = append(v.CompatOnly, row)
		}
		if e.Edition == "" {
			continue
		}
		g, ok := groups[e.Edition]
		if !ok {
			g = &EditionGroup{Edition: e.Edition, ByStatus: map[string]int{}}
			groups[e.Edition] = g
		}
		g.Features = append(g.Features, row)
		if row.HasTest262 {
			g.ByStatus[row.Status]++
		}
		if row.HasCompat {
			g.CompatTested++
			if row.CompatStatus == aggregate.CompatSupported {
				g.CompatSupported++
			}
		}
	}
	for _, g := range groups {
		v.Editions = append(v.Editions, *g)
	}
	sort.Slice(v.Editions, func(i, j int) bool { return v.Editions[i].Edition < v.Editions[j].Edition })
	return v
}

func featureRow(e contract.FeatureEntry) FeatureRow {
	row := FeatureRow{
		Name: e.Name, Key: e.Key, CompatName: e.CompatName, Edition: e.Edition, Suite: e.Suite,
		Status: e.Status, CompatStatus: e.CompatStatus, Agreement: e.Agreement,
	}
	if e.Test262 != nil {
		row.HasTest262 = true
		row.Passed, row.Failed, row.Total = e.Test262.Passed, e.Test262.Failed, e.Test262.Total()
		row.PassRate = e.Test262.PassRate()
	}
	if e.Compat != nil {
		row.HasCompat = true
		switch e.Compat.Kind {
		case contract.Resolved:
			row.CompatDetail = compat.VersionLabel(e.Compat.Version)
		case contract.Partial:
			s, t := e.Compat.SupportedCount()
			row.CompatDetail = fmt.Sprintf("%d/%d subtests", s, t)
			row.Subtests = e.Compat.Subtests
		}
	}
	return row
}

// Rate 格式化通过率；nil 为 "n/a"。
func Rate(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *r)
}
