// Package results 解析 test262.properties 形式的结果文件。
//
// 每行形如 `<path>[<空白><remainder>]`；remainder 去空白后恰为 "~" 记为失败，
// 其余（含空）记为通过。空行与第 0 列 '#' 开头的注释行被忽略，其它不匹配的行计入 Skipped。
package results

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strings"

	"featuretrack/pkg/contract"
)

// LineKind: 单行分类。
type LineKind int

const (
	LineBlank LineKind = iota
	LineComment
	LineMalformed
	LineRecord
)

func (k LineKind) String() string {
	switch k {
	case LineBlank:
		return "blank"
	case LineComment:
		return "comment"
	case LineMalformed:
		return "malformed"
	default:
		return "record"
	}
}

const (
	annexBCategory = "Annex B (Legacy)"
	intlCategory   = "Internationalization"
	failMarker     = "~"
)

var lineRe = regexp.MustCompile(`^([\w/.~-]+)(?:\s+(.*))?$`)

// ParseLine 对单行分类；仅当返回 LineRecord 时 TestRecord 有效。
func ParseLine(line string) (contract.TestRecord, LineKind) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return contract.TestRecord{}, LineBlank
	}
	if strings.HasPrefix(line, "#") {
		return contract.TestRecord{}, LineComment
	}
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return contract.TestRecord{}, LineMalformed
	}
	p := m[1]
	out := contract.Pass
	if strings.TrimSpace(m[2]) == failMarker {
		out = contract.Fail
	}
	return contract.TestRecord{
		Path:       p,
		Category:   Category(p),
		FeatureKey: FeatureKey(p),
		Outcome:    out,
	}, LineRecord
}

// Category 由路径推导粗粒度分类。
func Category(p string) string {
	segs := strings.Split(p, "/")
	switch segs[0] {
	case "built-ins", "language":
		if len(segs) >= 2 {
			return segs[0] + "/" + segs[1]
		}
		return segs[0]
	case "annexB":
		return annexBCategory
	case "intl402":
		return intlCategory
	}
	return segs[0]
}

// FeatureKey 取路径前三段（不足则取全部）。
func FeatureKey(p string) string {
	segs := strings.SplitN(p, "/", 4)
	if len(segs) > 3 {
		segs = segs[:3]
	}
	return strings.Join(segs, "/")
}

// Result: 一次解析的累积结果。Categories/Features 按首次出现顺序排列。
type Result struct {
	Records    []contract.TestRecord
	Categories []contract.CategoryStats
	Features   []contract.FeatureStats
	Skipped    int

	catIdx  map[string]int
	featIdx map[string]int
}

// New 返回空的累积结果；可多次 Consume 以合并多个结果文件。
func New() *Result {
	return &Result{catIdx: map[string]int{}, featIdx: map[string]int{}}
}

// Category 返回某分类的统计。
func (r *Result) Category(name string) (contract.CategoryStats, bool) {
	i, ok := r.catIdx[name]
	if !ok {
		return contract.CategoryStats{}, false
	}
	return r.Categories[i], true
}

// Feature 返回某 FeatureKey 的统计。
func (r *Result) Feature(key string) (contract.FeatureStats, bool) {
	i, ok := r.featIdx[key]
	if !ok {
		return contract.FeatureStats{}, false
	}
	return r.Features[i], true
}

// Empty 报告是否没有任何有效记录。
func (r *Result) Empty() bool { return len(r.Records) == 0 }

func (r *Result) add(rec contract.TestRecord) {
	r.Records = append(r.Records, rec)

	ci, ok := r.catIdx[rec.Category]
	if !ok {
		ci = len(r.Categories)
		r.catIdx[rec.Category] = ci
		r.Categories = append(r.Categories, contract.CategoryStats{Category: rec.Category})
	}
	fi, ok := r.featIdx[rec.FeatureKey]
	if !ok {
		fi = len(r.Features)
		r.featIdx[rec.FeatureKey] = fi
		r.Features = append(r.Features, contract.FeatureStats{Key: rec.FeatureKey})
	}
	if rec.Outcome == contract.Fail {
		r.Categories[ci].Failed++
		r.Features[fi].Failed++
	} else {
		r.Categories[ci].Passed++
		r.Features[fi].Passed++
	}
}

func (r *Result) feed(line string) {
	rec, kind := ParseLine(line)
	switch kind {
	case LineRecord:
		r.add(rec)
	case LineMalformed:
		r.Skipped++
	}
}

// Parse 解析完整文本；从不失败。
func Parse(text string) *Result {
	res := New()
	for len(text) > 0 {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			res.feed(text)
			break
		}
		res.feed(text[:i])
		text = text[i+1:]
	}
	return res
}

// ParseReader 流式解析；仅底层读取错误会返回 error。
func ParseReader(r io.Reader) (*Result, error) {
	res := New()
	if err := res.Consume(r); err != nil {
		return nil, err
	}
	return res, nil
}

// Consume 将 r 的全部行累加到 res；统计按首次出现顺序继续累积。
func (r *Result) Consume(rd io.Reader) error {
	br := bufio.NewReader(rd)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			r.feed(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
