package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"featuretrack/internal/compat"
	"featuretrack/plugins/acquirer/dir"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "FEATURETRACK_"

// DefaultSuiteOrder: compat-table 套件的默认优先级。
var DefaultSuiteOrder = []string{"es5", "es6", "es2016plus", "esnext", "esintl", "non-standard"}

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Results:   []string{"test262.properties"},
		CompatDir: "compat-table",
		OutputDir: "out",
		Emit:      []string{"json", "markdown", "dashboard"},
		Compat: Compat{
			Versions:   cloneStrings(compat.DefaultVersions),
			SuiteOrder: cloneStrings(DefaultSuiteOrder),
			Pattern:    dir.DefaultPattern,
		},
		Logging: Logging{Level: "info"},
		Components: Components{
			Reader:   "afs",
			Acquirer: "harness",
			Writer:   "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/列表/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Results) > 0 {
		out.Results = cloneStrings(over.Results)
	}
	if s := strings.TrimSpace(over.CompatDir); s != "" {
		out.CompatDir = s
	}
	if s := strings.TrimSpace(over.OutputDir); s != "" {
		out.OutputDir = s
	}
	if over.SkipAcquire != nil {
		v := *over.SkipAcquire
		out.SkipAcquire = &v
	}
	if len(over.Emit) > 0 {
		out.Emit = cloneStrings(over.Emit)
	}
	if s := strings.TrimSpace(over.Mapping); s != "" {
		out.Mapping = s
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// 特殊：MaxRetries 的 0 具有语义（禁用重试），需要显式可覆盖。
	// 约定：当 over.MaxRetries >= 0 时认为“存在”，否则（例如 -1）视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}

	if len(over.Compat.Versions) > 0 {
		out.Compat.Versions = cloneStrings(over.Compat.Versions)
	}
	if len(over.Compat.SuiteOrder) > 0 {
		out.Compat.SuiteOrder = cloneStrings(over.Compat.SuiteOrder)
	}
	if s := strings.TrimSpace(over.Compat.Pattern); s != "" {
		out.Compat.Pattern = s
	}

	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Acquirer != "" {
		out.Components.Acquirer = over.Components.Acquirer
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Acquirer) > 0 {
		out.Options.Acquirer = cloneRaw(over.Options.Acquirer)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Emitter) > 0 {
		m := make(map[string]json.RawMessage, len(out.Options.Emitter)+len(over.Options.Emitter))
		for k, v := range out.Options.Emitter {
			m[k] = v
		}
		for k, v := range over.Options.Emitter {
			m[k] = cloneRaw(v)
		}
		out.Options.Emitter = m
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 FEATURETRACK_；未知键忽略。
// 支持：RESULTS, COMPAT_DIR, OUTPUT_DIR, SKIP_ACQUIRE, EMIT, MAPPING, CONCURRENCY, MAX_RETRIES,
// LOG_LEVEL, LOG_DIR, COMPAT_VERSIONS, COMPAT_SUITE_ORDER, COMPAT_PATTERN, COMPONENTS_*,
// OPTIONS_{READER,ACQUIRER,WRITER}_JSON 以及 OPTIONS_EMITTER__<name>__JSON。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// 默认：-1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.MaxRetries = -1
	emitOpts := map[string]json.RawMessage{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch nk {
		case "RESULTS":
			over.Results = splitComma(val)
		case "COMPAT_DIR":
			over.CompatDir = strings.TrimSpace(val)
		case "OUTPUT_DIR":
			over.OutputDir = strings.TrimSpace(val)
		case "SKIP_ACQUIRE":
			if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				over.SkipAcquire = &b
			}
		case "EMIT":
			over.Emit = splitComma(val)
		case "MAPPING":
			over.Mapping = strings.TrimSpace(val)
		case "CONCURRENCY":
			if v, err := atoi(val); err == nil {
				over.Concurrency = v
			}
		case "MAX_RETRIES":
			if v, err := atoi(val); err == nil {
				over.MaxRetries = v
			}
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "COMPAT_VERSIONS":
			over.Compat.Versions = splitComma(val)
		case "COMPAT_SUITE_ORDER":
			over.Compat.SuiteOrder = splitComma(val)
		case "COMPAT_PATTERN":
			over.Compat.Pattern = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_ACQUIRER":
			over.Components.Acquirer = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader = rawOrNil(val)
		case "OPTIONS_ACQUIRER_JSON":
			over.Options.Acquirer = rawOrNil(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = rawOrNil(val)
		default:
			// OPTIONS_EMITTER__<name>__JSON
			if strings.HasPrefix(nk, "OPTIONS_EMITTER__") {
				parts := strings.Split(nk, "__")
				if len(parts) == 3 && parts[2] == "JSON" && parts[1] != "" {
					if raw := rawOrNil(val); raw != nil {
						emitOpts[strings.ToLower(parts[1])] = raw
					}
				}
			}
		}
	}
	if len(emitOpts) > 0 {
		over.Options.Emitter = emitOpts
	}
	return over, nil
}

// rawOrNil: 空值视为未设置，避免清空现有配置。
func rawOrNil(val string) json.RawMessage {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return json.RawMessage(val)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
