package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "featuretrack/internal/config"
	"featuretrack/internal/diag"
	"featuretrack/internal/pipeline"
	"featuretrack/pkg/contract"
)

func resetArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = args
	t.Cleanup(func() { os.Args = old })
}

// chdirTemp 切换到临时目录，测试结束后恢复。
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

// runnableConfig 返回跳过获取、输入齐备的配置。
func runnableConfig(t *testing.T, dir string) cfgpkg.Config {
	t.Helper()
	props := filepath.Join(dir, "test262.properties")
	if err := os.WriteFile(props, []byte("built-ins/Array/from/name.js\nbuilt-ins/Array/from/length.js ~\n"), 0o644); err != nil {
		t.Fatalf("write props: %v", err)
	}
	compat := filepath.Join(dir, "compat")
	if err := os.MkdirAll(compat, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg := cfgpkg.DefaultTemplateConfig()
	skip := true
	cfg.SkipAcquire = &skip
	cfg.Results = []string{props}
	cfg.CompatDir = compat
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Logging.Dir = ""
	return cfg
}

func setConfigEnv(t *testing.T, cfg cfgpkg.Config) {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	t.Setenv(cfgpkg.EnvPrefix+"CONFIG_JSON", string(b))
}

func stubRun(t *testing.T, fn func(comp pipeline.Components, set pipeline.Settings) (*pipeline.Result, error)) *bool {
	t.Helper()
	called := false
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (*pipeline.Result, error) {
		called = true
		return fn(comp, set)
	}
	t.Cleanup(func() { pipelineRun = orig })
	return &called
}

func okResult(pipeline.Components, pipeline.Settings) (*pipeline.Result, error) {
	return &pipeline.Result{Model: &contract.FeatureModel{}}, nil
}

func TestWriteConfig(t *testing.T) {
	cfg := cfgpkg.Defaults()
	dir := t.TempDir()
	file := filepath.Join(dir, "c.json")
	if err := writeConfig(file, cfg); err != nil {
		t.Fatalf("writeConfig file: %v", err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("文件未生成: %v", err)
	}
	// 已存在时不覆盖
	if err := writeConfig(file, cfg); err == nil {
		t.Fatalf("期望已存在错误")
	}
	r, w, _ := os.Pipe()
	old := os.Stdout
	os.Stdout = w
	if err := writeConfig("-", cfg); err != nil {
		t.Fatalf("writeConfig stdout: %v", err)
	}
	w.Close()
	os.Stdout = old
	r.Close()
}

func TestDumpConfig(t *testing.T) {
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	old := os.Stderr
	os.Stderr = devnull
	defer func() { os.Stderr = old; devnull.Close() }()
	if err := dumpConfig(cfgpkg.Defaults()); err != nil {
		t.Fatalf("dumpConfig: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\n" +
		"export FEATURETRACK_TEST_A=plain\n" +
		"FEATURETRACK_TEST_B=\"line\\nnext\"\n" +
		"FEATURETRACK_TEST_C='single'\n" +
		"FEATURETRACK_TEST_KEEP=fromfile\n" +
		"=novalue\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("FEATURETRACK_TEST_KEEP", "fromenv")
	for _, k := range []string{"FEATURETRACK_TEST_A", "FEATURETRACK_TEST_B", "FEATURETRACK_TEST_C"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("FEATURETRACK_TEST_A"); got != "plain" {
		t.Fatalf("A=%q", got)
	}
	if got := os.Getenv("FEATURETRACK_TEST_B"); got != "line\nnext" {
		t.Fatalf("B=%q", got)
	}
	if got := os.Getenv("FEATURETRACK_TEST_C"); got != "single" {
		t.Fatalf("C=%q", got)
	}
	if got := os.Getenv("FEATURETRACK_TEST_KEEP"); got != "fromenv" {
		t.Fatalf("已有环境变量被覆盖: %q", got)
	}
	if err := loadDotEnv(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("缺失文件应忽略: %v", err)
	}
}

func TestNormalizeInitArg(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{[]string{"ft", "--init-config"}, []string{"ft", "--init-config", "."}},
		{[]string{"ft", "--init-config", "--status=false"}, []string{"ft", "--init-config", ".", "--status=false"}},
		{[]string{"ft", "--init-config", "out"}, []string{"ft", "--init-config", "out"}},
		{[]string{"ft", "--init-config=out"}, []string{"ft", "--init-config=out"}},
	}
	for _, c := range cases {
		resetArgs(t, c.in...)
		normalizeInitArg()
		if strings.Join(os.Args, " ") != strings.Join(c.want, " ") {
			t.Fatalf("in=%v got=%v want=%v", c.in, os.Args, c.want)
		}
	}
}

func TestPreflightCheckOutputDir(t *testing.T) {
	dir := t.TempDir()
	cfg := cfgpkg.Defaults()
	cfg.OutputDir = filepath.Join(dir, "new")
	if err := preflightCheckOutputDir(cfg); err != nil {
		t.Fatalf("父目录可写时应通过: %v", err)
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.OutputDir = file
	if err := preflightCheckOutputDir(cfg); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("期望 ErrPathInvalid, got %v", err)
	}
	// writer 选项中的 output_dir 优先
	cfg.Options.Writer = json.RawMessage(`{"output_dir": "` + filepath.ToSlash(dir) + `"}`)
	if err := preflightCheckOutputDir(cfg); err != nil {
		t.Fatalf("writer output_dir 应优先: %v", err)
	}
}

func TestRunInitConfigDir(t *testing.T) {
	dir := chdirTemp(t)
	outDir := filepath.Join(dir, "emit")
	resetArgs(t, "featuretrack", "--init-config", outDir)
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat(filepath.Join(outDir, "config.json")); err != nil {
		t.Fatalf("config 未生成: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(outDir, ".env"))
	if err != nil {
		t.Fatalf(".env 未生成: %v", err)
	}
	if !strings.Contains(string(b), "FEATURETRACK_COMPAT_DIR=") {
		t.Fatalf(".env 缺少键: %s", b)
	}
	// 生成的模板应能被严格解析
	if _, err := cfgpkg.LoadJSON(filepath.Join(outDir, "config.json"), nil); err != nil {
		t.Fatalf("模板无法解析: %v", err)
	}
}

func TestRunInitConfigDefault(t *testing.T) {
	chdirTemp(t)
	resetArgs(t, "featuretrack", "--init-config")
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat("config.json"); err != nil {
		t.Fatalf("config 未生成: %v", err)
	}
}

func TestRunInitConfigFileExists(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write existing: %v", err)
	}
	resetArgs(t, "featuretrack", "--init-config", dir)
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunSuccess(t *testing.T) {
	dir := chdirTemp(t)
	setConfigEnv(t, runnableConfig(t, dir))
	resetArgs(t, "featuretrack", "--status=false")
	called := stubRun(t, okResult)
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatalf("pipelineRun 未调用")
	}
}

func TestRunWithConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	b, _ := json.Marshal(runnableConfig(t, dir))
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	resetArgs(t, "featuretrack", "--config", path, "--status=false")
	called := stubRun(t, okResult)
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatalf("pipelineRun 未调用")
	}
}

func TestRunConfigFileEnv(t *testing.T) {
	dir := chdirTemp(t)
	b, _ := json.Marshal(runnableConfig(t, dir))
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(cfgpkg.EnvPrefix+"CONFIG_FILE", path)
	resetArgs(t, "featuretrack", "--status=false")
	called := stubRun(t, okResult)
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatalf("pipelineRun 未调用")
	}
}

func TestRunDefaultConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	b, _ := json.Marshal(runnableConfig(t, dir))
	if err := os.WriteFile("config.json", b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	resetArgs(t, "featuretrack", "--status=false")
	called := stubRun(t, okResult)
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatalf("pipelineRun 未调用")
	}
}

func TestRunConfigFileNotFound(t *testing.T) {
	chdirTemp(t)
	resetArgs(t, "featuretrack", "--config", "missing.json")
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	chdirTemp(t)
	resetArgs(t, "featuretrack", "--no-such-flag")
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunValidateError(t *testing.T) {
	dir := chdirTemp(t)
	cfg := runnableConfig(t, dir)
	cfg.Emit = []string{"pdf"}
	setConfigEnv(t, cfg)
	resetArgs(t, "featuretrack")
	called := stubRun(t, okResult)
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	old := os.Stderr
	os.Stderr = devnull
	code := run()
	os.Stderr = old
	devnull.Close()
	if code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
	if *called {
		t.Fatalf("校验失败时不应运行流水线")
	}
}

func TestRunAssembleError(t *testing.T) {
	dir := chdirTemp(t)
	cfg := runnableConfig(t, dir)
	cfg.Options.Reader = json.RawMessage(`{"unknown":1}`)
	setConfigEnv(t, cfg)
	resetArgs(t, "featuretrack")
	if code := run(); code != 3 {
		t.Fatalf("expect 3, got %d", code)
	}
}

func TestRunPipelineError(t *testing.T) {
	dir := chdirTemp(t)
	setConfigEnv(t, runnableConfig(t, dir))
	resetArgs(t, "featuretrack", "--status=false")
	stubRun(t, func(pipeline.Components, pipeline.Settings) (*pipeline.Result, error) {
		return nil, errors.New("boom")
	})
	if code := run(); code != 1 {
		t.Fatalf("expect 1, got %d", code)
	}
}

func TestRunCLIOverrides(t *testing.T) {
	dir := chdirTemp(t)
	cfg := runnableConfig(t, dir)
	cfg.SkipAcquire = nil
	setConfigEnv(t, cfg)

	other := filepath.Join(dir, "other.properties")
	if err := os.WriteFile(other, []byte("language/statements/let/a.js\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	resetArgs(t, "featuretrack", "--status=false",
		"--skip-acquire", "--emit", "json,markdown", "--concurrency", "2", "--max-retries", "0",
		"--output", filepath.Join(dir, "reports"), other)
	called := stubRun(t, func(comp pipeline.Components, set pipeline.Settings) (*pipeline.Result, error) {
		if set.Concurrency != 2 || set.MaxRetries != 0 {
			t.Fatalf("CLI 覆盖未生效: %+v", set)
		}
		if len(set.Results) != 1 || set.Results[0] != other {
			t.Fatalf("位置参数应覆盖 results: %v", set.Results)
		}
		if len(comp.Emitters) != 2 {
			t.Fatalf("emit 覆盖未生效: %d", len(comp.Emitters))
		}
		return okResult(comp, set)
	})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !*called {
		t.Fatalf("pipelineRun 未调用")
	}
}

func TestRunMaxRetriesZeroEnv(t *testing.T) {
	dir := chdirTemp(t)
	setConfigEnv(t, runnableConfig(t, dir))
	t.Setenv(cfgpkg.EnvPrefix+"MAX_RETRIES", "0")
	resetArgs(t, "featuretrack", "--status=false")
	stubRun(t, func(comp pipeline.Components, set pipeline.Settings) (*pipeline.Result, error) {
		if set.MaxRetries != 0 {
			t.Fatalf("env max-retries=0 未生效, got %d", set.MaxRetries)
		}
		return okResult(comp, set)
	})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
}

func TestRunEndToEnd(t *testing.T) {
	dir := chdirTemp(t)
	cfg := runnableConfig(t, dir)
	doc := `{"Array.from":{"rhinoNewest":true},"let":{"rhinoNewest":false}}`
	if err := os.WriteFile(filepath.Join(cfg.CompatDir, "results-es6.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	setConfigEnv(t, cfg)
	resetArgs(t, "featuretrack", "--status=false")
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	for _, name := range []string{"rhino-features.json", "FEATURES.md", "rhino-features.html"} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, name)); err != nil {
			t.Fatalf("%s 未生成: %v", name, err)
		}
	}
}

// 运行结束的计数快照：展开为键值并在 debug 级别输出。
func TestLogMetrics(t *testing.T) {
	diag.ResetMetrics()
	defer diag.ResetMetrics()
	diag.IncOp("emitter", diag.StageFinish, "success")
	diag.IncOp("emitter", diag.StageFinish, "success")
	diag.IncError("acquirer", string(diag.CodeCancel))
	diag.ObserveDuration("cli", "finish", 12)

	kv := metricsKV(diag.Metrics())
	if kv["ops.emitter/finish/success"] != "2" {
		t.Fatalf("ops: %v", kv)
	}
	if kv["errors.acquirer/cancel"] != "1" {
		t.Fatalf("errors: %v", kv)
	}
	if kv["duration_ms.cli/finish"] != "12" {
		t.Fatalf("duration: %v", kv)
	}

	var console bytes.Buffer
	logger := diag.NewLogger(diag.Options{CorrID: "c", Level: "debug", Console: &console})
	logMetrics(logger)
	_ = logger.Close()
	if !strings.Contains(console.String(), "metrics") || !strings.Contains(console.String(), "ops.emitter/finish/success") {
		t.Fatalf("metrics 未输出: %q", console.String())
	}
}
