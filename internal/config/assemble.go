package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"featuretrack/internal/diag"
	"featuretrack/internal/mapping"
	"featuretrack/internal/pipeline"
	"featuretrack/pkg/contract"
	"featuretrack/pkg/registry"
	"featuretrack/plugins/reader/afsreader"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Results) == 0 {
		return errors.New("config: results empty")
	}
	// 结果路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Results {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: results path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Results) > 1 {
		return errors.New("config: '-' cannot be mixed with other results")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("config: output_dir empty")
	}
	if cfg.AcquirerName() != "inline" && strings.TrimSpace(cfg.CompatDir) == "" {
		return errors.New("config: compat_dir empty")
	}
	if cfg.Concurrency < 0 {
		return errors.New("config: concurrency must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if p := effName(cfg.Compat.Pattern, Defaults().Compat.Pattern); !doublestar.ValidatePattern(p) {
		return fmt.Errorf("config: compat.pattern %q invalid", p)
	}
	for _, v := range cfg.Compat.Versions {
		if strings.TrimSpace(v) == "" {
			return errors.New("config: compat.versions contains empty id")
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: logging.level %q unknown", cfg.Logging.Level)
	}

	if len(cfg.Emit) == 0 {
		return errors.New("config: emit empty")
	}
	seen := map[string]struct{}{}
	for _, name := range cfg.Emit {
		if registry.Emitter[name] == nil {
			return fmt.Errorf("config: emitter %q not registered", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: emitter %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	for name := range cfg.Options.Emitter {
		if _, ok := seen[name]; !ok && registry.Emitter[name] == nil {
			return fmt.Errorf("config: options for unknown emitter %q", name)
		}
	}

	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := cfg.AcquirerName(); registry.Acquirer[name] == nil {
		return fmt.Errorf("config: acquirer %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults()

	r, err := registry.Reader[effName(cfg.Components.Reader, d.Components.Reader)](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader: %w", err)
	}

	// 文档 Reader：仅扫描 compat 目录顶层、按模式过滤
	docReader, err := afsreader.New(&afsreader.Options{
		Include:         []string{effName(cfg.Compat.Pattern, d.Compat.Pattern)},
		MaxDepth:        1,
		ExcludeDirNames: []string{".git", "node_modules"},
	})
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("compat reader: %w", err)
	}
	env := registry.AcquireEnv{CompatDir: cfg.CompatDir, Reader: docReader}
	var acqRaw = cfg.Options.Acquirer
	if cfg.Skip() {
		// dir 获取器无需 harness 的选项
		acqRaw = nil
	}
	acq, err := registry.Acquirer[cfg.AcquirerName()](env, acqRaw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("acquirer: %w", err)
	}

	emitters := make([]contract.Emitter, 0, len(cfg.Emit))
	for _, name := range cfg.Emit {
		e, err := registry.Emitter[name](cfg.Options.Emitter[name])
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("emitter %s: %w", name, err)
		}
		emitters = append(emitters, e)
	}

	w, err := registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](cfg.OutputDir, cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer: %w", err)
	}

	var table *mapping.Table
	if cfg.Mapping != "" {
		table, err = mapping.LoadFile(cfg.Mapping)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("mapping: %w", err)
		}
	}

	comp := pipeline.Components{
		Reader:   r,
		Acquirer: acq,
		Emitters: emitters,
		Writer:   w,
		Mapping:  table,
	}
	set := pipeline.Settings{
		Results:     cloneStrings(cfg.Results),
		SuiteOrder:  cloneStrings(cfg.Compat.SuiteOrder),
		Versions:    cloneStrings(cfg.Compat.Versions),
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
	}
	return comp, set, nil
}

// LoggerOptions 由配置派生 Logger 参数（控制台由调用方决定）。
func LoggerOptions(cfg Config, corrID string) diag.Options {
	return diag.Options{CorrID: corrID, Level: cfg.Logging.Level, Dir: cfg.Logging.Dir}
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
