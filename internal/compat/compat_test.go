package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"featuretrack/pkg/contract"
)

var prio = []string{"rhinoNewest", "rhinoOld"}

func TestDecodeFeatureResolved(t *testing.T) {
	got := DecodeFeature(gjson.Get(`{"Promise":{"rhinoNewest":true}}`, "Promise"), prio)
	assert.Equal(t, contract.CompatResult{Kind: contract.Resolved, Supported: true, Version: "rhinoNewest"}, got)
}

func TestDecodeFeaturePartial(t *testing.T) {
	doc := `{"Array.prototype.flat":{"envA":{"rhinoNewest":false}}}`
	feats, err := DecodeDocument([]byte(doc), prio)
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, "Array.prototype.flat", feats[0].Name)
	assert.Equal(t, contract.CompatResult{
		Kind:     contract.Partial,
		Subtests: []contract.Subtest{{Name: "envA", Supported: false, Version: "rhinoNewest"}},
	}, feats[0].Result)
}

func TestDecodeFeaturePriority(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want contract.CompatResult
	}{
		{"新版本优先", `{"rhinoOld":true,"rhinoNewest":false}`, contract.CompatResult{Kind: contract.Resolved, Version: "rhinoNewest"}},
		{"null 视为缺失", `{"rhinoNewest":null,"rhinoOld":true}`, contract.CompatResult{Kind: contract.Resolved, Supported: true, Version: "rhinoOld"}},
		{"非 true 视为不支持", `{"rhinoNewest":"flagged"}`, contract.CompatResult{Kind: contract.Resolved, Version: "rhinoNewest"}},
		{"无版本", `{"other":true}`, contract.CompatResult{Kind: contract.Unresolved}},
		{"非对象", `true`, contract.CompatResult{Kind: contract.Unresolved}},
		{"子项保持文档顺序", `{"z":{"rhinoOld":true},"a":{"rhinoNewest":true},"skip":1,"none":{"x":true}}`, contract.CompatResult{
			Kind: contract.Partial,
			Subtests: []contract.Subtest{
				{Name: "z", Supported: true, Version: "rhinoOld"},
				{Name: "a", Supported: true, Version: "rhinoNewest"},
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeFeature(gjson.Parse(tt.raw), prio))
		})
	}
}

func TestDecodeDocumentInvalid(t *testing.T) {
	for _, in := range []string{`{"a":`, `[1,2]`, `"str"`, ``} {
		_, err := DecodeDocument([]byte(in), prio)
		assert.ErrorIs(t, err, contract.ErrDocumentInvalid, in)
	}
}

func TestLoadFirstSuiteWins(t *testing.T) {
	docs := []contract.Document{
		{Suite: "es6", Data: []byte(`{"Promise":{"rhinoNewest":true},"gone":{"x":true}}`)},
		{Suite: "broken", Data: []byte(`not json`)},
		{Suite: "es2016plus", Data: []byte(`{"Promise":{"rhinoNewest":false},"flat":{"rhinoOld":true}}`)},
	}
	m := Load(docs, prio)
	require.Equal(t, 2, m.Len())
	p, ok := m.Lookup("Promise")
	require.True(t, ok)
	assert.Equal(t, "es6", p.Suite)
	assert.True(t, p.Result.Supported)

	assert.Equal(t, 1, m.Dropped)
	require.Len(t, m.Skipped, 1)
	assert.Equal(t, "broken", m.Skipped[0].Suite)

	_, ok = m.Lookup("gone")
	assert.False(t, ok)
}

func TestLoadDefaultVersions(t *testing.T) {
	m := Load([]contract.Document{{Suite: "es6", Data: []byte(`{"let":{"rhino1_7_13":true,"rhino1_8_1":false}}`)}}, nil)
	f, ok := m.Lookup("let")
	require.True(t, ok)
	assert.Equal(t, "rhino1_8_1", f.Result.Version)
	assert.False(t, f.Result.Supported)
}

func TestOrderDocuments(t *testing.T) {
	docs := []contract.Document{{Suite: "non-standard"}, {Suite: "es2016plus"}, {Suite: "es5"}, {Suite: "esnext"}, {Suite: "es6"}}
	got := OrderDocuments(docs, []string{"es6", "es2016plus", "missing"})
	var suites []string
	for _, d := range got {
		suites = append(suites, d.Suite)
	}
	assert.Equal(t, []string{"es6", "es2016plus", "es5", "esnext", "non-standard"}, suites)
	// 输入不被修改
	assert.Equal(t, "non-standard", docs[0].Suite)
}

func TestVersionLabel(t *testing.T) {
	assert.Equal(t, "Rhino 1.8.1", VersionLabel("rhino1_8_1"))
	assert.Equal(t, "Rhino 1.7.14", VersionLabel("rhino1_7_14"))
	assert.Equal(t, "Node 18.0.0", VersionLabel("node18"))
	assert.Equal(t, "rhinoNewest", VersionLabel("rhinoNewest"))
	assert.Equal(t, "1_8", VersionLabel("1_8"))
}
