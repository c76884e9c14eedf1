// Package mapping 维护 test262 feature key 与兼容矩阵特性名之间的双射表。
package mapping

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"featuretrack/pkg/contract"
)

//go:embed table.yaml
var defaultTable []byte

// Row: 映射表中的一行。
type Row struct {
	Path    string `yaml:"path" json:"path"`
	Name    string `yaml:"name" json:"name"`
	Edition string `yaml:"-" json:"edition"`
}

type fileFormat struct {
	Editions []struct {
		Edition  string `yaml:"edition"`
		Features []Row  `yaml:"features"`
	} `yaml:"editions"`
}

// Table: 只读映射表；构建后可并发读取。
type Table struct {
	rows     []Row
	editions []string
	byPath   map[string]int
	byName   map[string]int
}

var (
	defOnce sync.Once
	defTab  *Table
)

// Default 返回内嵌映射表。内嵌表非法属于构建缺陷，直接 panic。
func Default() *Table {
	defOnce.Do(func() {
		t, err := parse(defaultTable)
		if err != nil {
			panic(fmt.Sprintf("mapping: embedded table: %v", err))
		}
		defTab = t
	})
	return defTab
}

// Load 从 YAML 读取映射表并校验。
func Load(r io.Reader) (*Table, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(b)
}

// LoadFile 读取映射表覆盖文件。
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return t, nil
}

func parse(b []byte) (*Table, error) {
	var ff fileFormat
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	var rows []Row
	for _, e := range ff.Editions {
		for _, r := range e.Features {
			r.Edition = e.Edition
			rows = append(rows, r)
		}
	}
	return New(rows)
}

// New 由行构建映射表；空字段、重复路径或重复名称均视为非法。
func New(rows []Row) (*Table, error) {
	t := &Table{
		rows:   make([]Row, 0, len(rows)),
		byPath: make(map[string]int, len(rows)),
		byName: make(map[string]int, len(rows)),
	}
	seenEd := map[string]bool{}
	for i, r := range rows {
		r.Path = strings.TrimSpace(r.Path)
		r.Name = strings.TrimSpace(r.Name)
		r.Edition = strings.TrimSpace(r.Edition)
		if r.Path == "" || r.Name == "" || r.Edition == "" {
			return nil, fmt.Errorf("%w: row %d: path, name and edition are required", contract.ErrInvalidInput, i)
		}
		if _, dup := t.byPath[r.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate path %q", contract.ErrInvalidInput, r.Path)
		}
		if _, dup := t.byName[r.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", contract.ErrInvalidInput, r.Name)
		}
		t.byPath[r.Path] = len(t.rows)
		t.byName[r.Name] = len(t.rows)
		t.rows = append(t.rows, r)
		if !seenEd[r.Edition] {
			seenEd[r.Edition] = true
			t.editions = append(t.editions, r.Edition)
		}
	}
	return t, nil
}

// Forward: featureKey -> 特性名。
func (t *Table) Forward(featureKey string) (string, bool) {
	if t == nil {
		return "", false
	}
	i, ok := t.byPath[featureKey]
	if !ok {
		return "", false
	}
	return t.rows[i].Name, true
}

// Reverse: 特性名 -> featureKey。
func (t *Table) Reverse(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	i, ok := t.byName[name]
	if !ok {
		return "", false
	}
	return t.rows[i].Path, true
}

// Edition 返回 featureKey 所属版本；未映射时为空。
func (t *Table) Edition(featureKey string) string {
	if t == nil {
		return ""
	}
	if i, ok := t.byPath[featureKey]; ok {
		return t.rows[i].Edition
	}
	return ""
}

// Editions 返回版本列表（表内首次出现顺序）。
func (t *Table) Editions() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.editions...)
}

// Rows 返回表顺序的只读副本。
func (t *Table) Rows() []Row {
	if t == nil {
		return nil
	}
	return append([]Row(nil), t.rows...)
}

// Len 返回行数。
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}
