// Package compat 加载兼容矩阵文档（results-<suite>.json）。
//
// 版本解析在加载时一次性完成：每个特性被解码为 Resolved、Partial 或 Unresolved，
// Unresolved 的特性被丢弃，只计入诊断。
package compat

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"featuretrack/pkg/contract"
)

// DefaultVersions: 默认版本优先级（新到旧）。
var DefaultVersions = []string{"rhino1_8_1", "rhino1_7_14", "rhino1_7_13"}

// Feature: 扁平化后的单个兼容特性。
type Feature struct {
	Name   string
	Suite  string
	Result contract.CompatResult
}

// Matrix: 跨套件扁平化后的特性集合（加载顺序）。
type Matrix struct {
	Features []Feature
	// Skipped: 非 JSON 对象而被跳过的文档。
	Skipped []contract.SkippedDocument
	// Dropped: 无法解析任何版本而被丢弃的特性数。
	Dropped int

	idx map[string]int
}

// Lookup 按人类可读名称查找。
func (m *Matrix) Lookup(name string) (Feature, bool) {
	if m == nil {
		return Feature{}, false
	}
	i, ok := m.idx[name]
	if !ok {
		return Feature{}, false
	}
	return m.Features[i], true
}

// Len 返回特性数。
func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Features)
}

// resolve 按优先级扫描一个扁平的版本映射。
func resolve(obj gjson.Result, versions []string) (supported bool, version string, ok bool) {
	present := make(map[string]gjson.Result)
	obj.ForEach(func(k, v gjson.Result) bool {
		if v.Type != gjson.Null {
			if _, dup := present[k.String()]; !dup {
				present[k.String()] = v
			}
		}
		return true
	})
	for _, ver := range versions {
		if v, hit := present[ver]; hit {
			return v.Type == gjson.True, ver, true
		}
	}
	return false, "", false
}

// DecodeFeature 将单个特性值解码为 CompatResult。
func DecodeFeature(raw gjson.Result, versions []string) contract.CompatResult {
	if !raw.IsObject() {
		return contract.CompatResult{Kind: contract.Unresolved}
	}
	if sup, ver, ok := resolve(raw, versions); ok {
		return contract.CompatResult{Kind: contract.Resolved, Supported: sup, Version: ver}
	}
	var subs []contract.Subtest
	raw.ForEach(func(k, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		if sup, ver, ok := resolve(v, versions); ok {
			subs = append(subs, contract.Subtest{Name: k.String(), Supported: sup, Version: ver})
		}
		return true
	})
	if len(subs) == 0 {
		return contract.CompatResult{Kind: contract.Unresolved}
	}
	return contract.CompatResult{Kind: contract.Partial, Subtests: subs}
}

// DecodedFeature: 单个文档内的解码结果（文档顺序）。
type DecodedFeature struct {
	Name   string
	Result contract.CompatResult
}

// DecodeDocument 解码一个套件文档；非 JSON 对象返回 ErrDocumentInvalid。
// 同一文档内重复的特性名以首次出现为准。
func DecodeDocument(data []byte, versions []string) ([]DecodedFeature, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("compat: malformed json: %w", contract.ErrDocumentInvalid)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("compat: top-level value is %s, want object: %w", root.Type, contract.ErrDocumentInvalid)
	}
	var out []DecodedFeature
	seen := make(map[string]struct{})
	root.ForEach(func(k, v gjson.Result) bool {
		name := k.String()
		if _, dup := seen[name]; dup {
			return true
		}
		seen[name] = struct{}{}
		out = append(out, DecodedFeature{Name: name, Result: DecodeFeature(v, versions)})
		return true
	})
	return out, nil
}

// Load 按 versions 建立矩阵索引；versions 为空时使用 DefaultVersions。
func Load(docs []contract.Document, versions []string) *Matrix {
	if len(versions) == 0 {
		versions = DefaultVersions
	}
	m := &Matrix{idx: make(map[string]int)}
	for _, d := range docs {
		feats, err := DecodeDocument(d.Data, versions)
		if err != nil {
			m.Skipped = append(m.Skipped, contract.SkippedDocument{Suite: d.Suite, Reason: err.Error()})
			continue
		}
		for _, f := range feats {
			if f.Result.Kind == contract.Unresolved {
				m.Dropped++
				continue
			}
			if _, dup := m.idx[f.Name]; dup {
				continue
			}
			m.idx[f.Name] = len(m.Features)
			m.Features = append(m.Features, Feature{Name: f.Name, Suite: d.Suite, Result: f.Result})
		}
	}
	return m
}

// OrderDocuments 返回新切片：suiteOrder 中列出的套件按给定顺序在前，其余按字典序。
// 未出现在 docs 中的套件名被忽略；同名文档保留相对顺序。
func OrderDocuments(docs []contract.Document, suiteOrder []string) []contract.Document {
	rank := make(map[string]int, len(suiteOrder))
	for i, s := range suiteOrder {
		if _, ok := rank[s]; !ok {
			rank[s] = i
		}
	}
	out := make([]contract.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Suite]
		rj, jok := rank[out[j].Suite]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].Suite < out[j].Suite
		}
	})
	return out
}
