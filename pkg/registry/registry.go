package registry

import (
	"bytes"
	"encoding/json"

	"featuretrack/pkg/contract"
	acqdir "featuretrack/plugins/acquirer/dir"
	"featuretrack/plugins/acquirer/harness"
	"featuretrack/plugins/acquirer/inline"
	"featuretrack/plugins/emitter/dashboard"
	"featuretrack/plugins/emitter/jsonreport"
	"featuretrack/plugins/emitter/markdown"
	"featuretrack/plugins/reader/afsreader"
	wfs "featuretrack/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// AcquireEnv: 获取器共享的运行环境。
type AcquireEnv struct {
	// CompatDir: 兼容矩阵文档目录（全局 compat_dir）。
	CompatDir string
	// Reader: 已按文档模式配置好的 Reader，用于收集 results-*.json。
	Reader contract.Reader
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewAcquirer 工厂签名：接收运行环境与原样 JSON Options。
type NewAcquirer func(env AcquireEnv, raw json.RawMessage) (contract.Acquirer, error)

// NewEmitter 工厂签名：接收原样 JSON Options。
type NewEmitter func(raw json.RawMessage) (contract.Emitter, error)

// NewWriter 工厂签名：outputDir 为 --output 给定的默认目录。
type NewWriter func(outputDir string, raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// afs: 本地文件/目录/URL/STDIN
	"afs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts afsreader.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return afsreader.New(&opts)
	},
}

// Acquirer 工厂注册表。
var Acquirer = map[string]NewAcquirer{
	// harness: 克隆 compat-table、构建引擎、运行工具后收集
	"harness": func(env AcquireEnv, raw json.RawMessage) (contract.Acquirer, error) {
		var opts harness.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return harness.New(env.Reader, env.CompatDir, &opts)
	},
	// dir: 仅收集目录中已有的文档
	"dir": func(env AcquireEnv, raw json.RawMessage) (contract.Acquirer, error) {
		var opts acqdir.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		d := opts.Dir
		if d == "" {
			d = env.CompatDir
		}
		return acqdir.New(env.Reader, d)
	},
	// inline: 文档直接写在配置里
	"inline": func(_ AcquireEnv, raw json.RawMessage) (contract.Acquirer, error) {
		var opts inline.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return inline.New(&opts)
	},
}

// Emitter 工厂注册表。
var Emitter = map[string]NewEmitter{
	"json": func(raw json.RawMessage) (contract.Emitter, error) {
		var opts jsonreport.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return jsonreport.New(&opts)
	},
	"markdown": func(raw json.RawMessage) (contract.Emitter, error) {
		var opts markdown.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return markdown.New(&opts)
	},
	"dashboard": func(raw json.RawMessage) (contract.Emitter, error) {
		var opts dashboard.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dashboard.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(outputDir string, raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(outputDir, &opts)
	},
}
