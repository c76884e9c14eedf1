package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	cfgpkg "featuretrack/internal/config"
	"featuretrack/internal/diag"
	"featuretrack/internal/pipeline"
	"featuretrack/pkg/contract"
)

var pipelineRun = pipeline.Run

// featuretrack：聚合 test262.properties 与 compat-table 结果，生成 JSON/Markdown/HTML 报告。
// 位置参数追加为 results 输入（文件、URL 或 "-" 表示 STDIN，不能与其他输入混用）。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	// 先以默认级别占位，合并配置后按最终 level 重建
	logger := diag.NewLogger(diag.Options{CorrID: corrID, Console: os.Stderr, ConsoleColor: diag.IsTTY(os.Stderr)})
	defer func() { _ = logger.Close() }()

	var (
		flagConfig      string
		flagResults     []string
		flagCompatDir   string
		flagOutput      string
		flagSkipAcquire bool
		flagEmit        []string
		flagMapping     string
		flagLogLevel    string
		flagConcurrency int
		flagMaxRetries  int
		flagInitDir     string
		flagStatus      bool
	)
	normalizeInitArg()
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	fs.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	fs.StringSliceVar(&flagResults, "results", nil, "test262.properties 位置（可重复或逗号分隔；覆盖配置）")
	fs.StringVar(&flagCompatDir, "compat-dir", "", "compat-table 检出目录（覆盖配置）")
	fs.StringVar(&flagOutput, "output", "", "报告输出目录（覆盖配置）")
	fs.BoolVar(&flagSkipAcquire, "skip-acquire", false, "跳过获取阶段，直接读取 compat-dir 中已有的 results-*.json")
	fs.StringSliceVar(&flagEmit, "emit", nil, "启用的报告：json,markdown,dashboard（覆盖配置）")
	fs.StringVar(&flagMapping, "mapping", "", "映射表覆盖文件（YAML）")
	fs.StringVar(&flagLogLevel, "log-level", "", "日志级别：debug|info|warn|error")
	fs.IntVar(&flagConcurrency, "concurrency", 0, "渲染并发度（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	fs.IntVar(&flagMaxRetries, "max-retries", -1, "写出阶段最大重试次数（覆盖配置；0 表示不重试）")
	fs.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（不覆盖已有文件）；不带值时默认当前目录")
	fs.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fprintf(os.Stderr, "参数解析失败: %v\n", err)
		return 3
	}

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init config", &start)
			return 3
		}
		cfgPath := filepath.Join(initDir, "config.json")
		if err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init config", &start)
			return 3
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		fprintf(os.Stderr, "已生成 %s\n", cfgPath)
		return 0
	}

	// JSON 配置（文件或 ENV: FEATURETRACK_CONFIG_JSON）
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			err = fmt.Errorf("%w: %v", diag.ErrConfig, err)
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		err = fmt.Errorf("%w: %v", diag.ErrConfig, err)
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	var overCLI cfgpkg.Config
	overCLI.MaxRetries = -1
	results := append(append([]string(nil), flagResults...), fs.Args()...)
	if len(results) > 0 {
		overCLI.Results = results
	}
	overCLI.CompatDir = flagCompatDir
	overCLI.OutputDir = flagOutput
	if fs.Changed("skip-acquire") {
		v := flagSkipAcquire
		overCLI.SkipAcquire = &v
	}
	overCLI.Emit = flagEmit
	overCLI.Mapping = flagMapping
	overCLI.Logging.Level = flagLogLevel
	if flagConcurrency > 0 {
		overCLI.Concurrency = flagConcurrency
	}
	if flagMaxRetries >= 0 {
		overCLI.MaxRetries = flagMaxRetries
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		err = fmt.Errorf("%w: %v", diag.ErrConfig, err)
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 使用最终配置重建 logger（级别与文件目录）
	_ = logger.Close()
	lopts := cfgpkg.LoggerOptions(cfg, corrID)
	lopts.Console = os.Stderr
	lopts.ConsoleColor = diag.IsTTY(os.Stderr)
	logger = diag.NewLogger(lopts)

	if err := preflightCheckOutputDir(cfg); err != nil {
		err = fmt.Errorf("%w: %v", diag.ErrConfig, err)
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		err = fmt.Errorf("%w: %v", diag.ErrConfig, err)
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 终端信息提示（非日志）：默认开启
	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.AcquirerName(), cfg.Emit)

	logger.Debug("config", "effective", "", map[string]string{
		"results":     strings.Join(cfg.Results, ","),
		"compat_dir":  cfg.CompatDir,
		"output_dir":  cfg.OutputDir,
		"acquirer":    cfg.AcquirerName(),
		"emit":        strings.Join(cfg.Emit, ","),
		"mapping":     cfg.Mapping,
		"concurrency": fmt.Sprintf("%d", cfg.Concurrency),
		"max_retries": fmt.Sprintf("%d", cfg.MaxRetries),
	})

	t := logger.Start("cli", "run")
	res, err := pipelineRun(context.Background(), comp, set, logger)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("cli", code, "first error", &start)
		diag.IncOp("cli", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("cli", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start))
		logMetrics(logger)
		return 1
	}
	var n int64
	if res != nil {
		n = int64(len(res.Artifacts))
	}
	t.Finish("run", n)
	diag.IncOp("cli", "finish", "success")
	diag.ObserveDuration("cli", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	logMetrics(logger)
	printSummary(res)
	return 0
}

// logMetrics 在运行结束时以 debug 级别输出计数快照。
func logMetrics(logger *diag.Logger) {
	logger.Debug("cli", "metrics", "", metricsKV(diag.Metrics()))
}

// metricsKV 将快照展开为 ops.<key>/errors.<key>/duration_ms.<key> 形式的键值。
func metricsKV(s diag.Snapshot) map[string]string {
	kv := make(map[string]string, len(s.Ops)+len(s.Errors)+len(s.DurationMS))
	for _, x := range s.Ops {
		kv["ops."+x.Key] = strconv.FormatInt(x.Value, 10)
	}
	for _, x := range s.Errors {
		kv["errors."+x.Key] = strconv.FormatInt(x.Value, 10)
	}
	for _, x := range s.DurationMS {
		kv["duration_ms."+x.Key] = strconv.FormatInt(x.Value, 10)
	}
	return kv
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// printSummary 在 stdout 打印一行汇总。
func printSummary(res *pipeline.Result) {
	if res == nil || res.Model == nil {
		return
	}
	m := res.Model
	rate := "n/a"
	if m.Summary.PassRate != nil {
		rate = fmt.Sprintf("%.1f%%", *m.Summary.PassRate)
	}
	fmt.Fprintf(os.Stdout, "test262: %d/%d passed (%s) | features: %d (both %d, compat-only %d) | artifacts: %d\n",
		m.Summary.PassedTests, m.Summary.TotalTests, rate,
		m.Coverage.Features, m.Coverage.Both, m.Coverage.CompatFeatures-m.Coverage.Both,
		len(res.Artifacts))
}

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// loadDotEnv 读取简单的 .env 文件并注入进程环境。
// - 忽略不存在的文件；跳过空行与 # 注释行；支持可选的 "export " 前缀。
// - 仅按首个 '=' 分割；成对的单/双引号被去除，双引号内处理 \n \t \r \" \\ 转义。
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if q := val[0]; (q == '\'' || q == '"') && val[len(val)-1] == q {
				val = val[1 : len(val)-1]
				if q == '"' {
					val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 裸 --init-config（位于末尾或后接其他开关）补默认值 "."。
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		out = append(out, args[i])
		if args[i] != "--init-config" {
			continue
		}
		if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
			out = append(out, ".")
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板；文件已存在则跳过。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# featuretrack .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString(p + "CONFIG_FILE=\n")
	b.WriteString(p + "CONFIG_JSON=\n\n")

	b.WriteString("# 输入与输出\n")
	for _, k := range []string{"RESULTS", "COMPAT_DIR", "OUTPUT_DIR", "SKIP_ACQUIRE", "EMIT", "MAPPING"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 运行参数\n")
	for _, k := range []string{"CONCURRENCY", "MAX_RETRIES", "LOG_LEVEL", "LOG_DIR"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 兼容矩阵解析\n")
	for _, k := range []string{"COMPAT_VERSIONS", "COMPAT_SUITE_ORDER", "COMPAT_PATTERN"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"COMPONENTS_READER", "COMPONENTS_ACQUIRER", "COMPONENTS_WRITER"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件 Options（JSON）\n")
	for _, k := range []string{"OPTIONS_READER_JSON", "OPTIONS_ACQUIRER_JSON", "OPTIONS_WRITER_JSON",
		"OPTIONS_EMITTER__json__JSON", "OPTIONS_EMITTER__markdown__JSON", "OPTIONS_EMITTER__dashboard__JSON"} {
		b.WriteString(p + k + "=\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: 使用文件系统 Writer 时，启动前检查输出目录可写性。
// 目录存在则试写临时文件；不存在则检查父目录是否可创建子目录。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		dir = strings.TrimSpace(cfg.OutputDir)
	}
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil {
		return fmt.Errorf("路径存在但不是目录: %s: %w", dir, contract.ErrPathInvalid)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	pst, err := os.Stat(parent)
	if err != nil {
		// 父目录也不存在时交由 Writer 递归创建
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s: %w", parent, contract.ErrPathInvalid)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
