// Package harness 通过外部兼容性测试工具生成兼容矩阵文档：
// 克隆 compat-table 仓库、（可选）构建引擎并复制 jar、运行工具更新 results-*.json，最后收集文档。
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"featuretrack/pkg/contract"
	"featuretrack/plugins/acquirer/dir"
)

const (
	DefaultRepoURL  = "https://github.com/compat-table/compat-table.git"
	DefaultJarDest  = "rhino.jar"
	defaultTimeout  = 20 * time.Minute
	retryDelay      = 200 * time.Millisecond
	lockPollDelay   = 250 * time.Millisecond
	outputTailBytes = 1024
)

// DefaultRunCmd: 在 compat-table 目录下更新结果文件。
var DefaultRunCmd = []string{"node", "rhino.js", "-u"}

// Options: 获取流程选项。
type Options struct {
	// RepoURL/Ref: compat-table 仓库与分支；Dir 下已有 .git 时不再克隆。
	RepoURL string `json:"repo_url"`
	Ref     string `json:"ref"`
	// Dir: compat-table 检出目录；为空时使用全局 compat_dir。
	Dir string `json:"dir"`
	// Update: 已有检出时执行 git pull --ff-only。
	Update bool `json:"update"`
	// EngineDir: 引擎源码目录；为空时跳过构建与复制 jar。
	EngineDir string `json:"engine_dir"`
	// BuildCmd: 在 EngineDir 中执行的构建命令，例如 ["./gradlew","jar"]。
	BuildCmd []string `json:"build_cmd"`
	// Jar: 构建产物（相对 EngineDir），复制到 Dir/JarDest。
	Jar     string `json:"jar"`
	JarDest string `json:"jar_dest"`
	// RunCmd: 在 Dir 中执行的更新命令；为空时使用 DefaultRunCmd。
	RunCmd []string `json:"run_cmd"`
	// TimeoutSeconds: 整个获取流程的超时；0 使用 20 分钟。
	TimeoutSeconds int `json:"timeout_seconds"`
	// MaxRetries: 单个命令失败后的重试次数（>=0）。
	MaxRetries int `json:"max_retries"`
	// LockFile: 跨进程锁文件；为空时为 <Dir>.lock。
	LockFile string `json:"lock_file"`
}

// Runner 执行外部命令并返回合并输出。
type Runner interface {
	Run(ctx context.Context, workdir string, argv []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, workdir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workdir
	return cmd.CombinedOutput()
}

// Acquirer 串行执行获取步骤；同一检出目录在进程间互斥。
type Acquirer struct {
	opts    Options
	reader  contract.Reader
	runner  Runner
	timeout time.Duration
}

// New 构造获取器；dir 为 Options.Dir 为空时的默认检出目录。
func New(reader contract.Reader, compatDir string, opts *Options) (*Acquirer, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if strings.TrimSpace(o.Dir) == "" {
		o.Dir = compatDir
	}
	if strings.TrimSpace(o.Dir) == "" {
		return nil, fmt.Errorf("harness: compat dir required: %w", contract.ErrInvalidInput)
	}
	if reader == nil {
		return nil, fmt.Errorf("harness: reader required: %w", contract.ErrInvalidInput)
	}
	if o.MaxRetries < 0 {
		return nil, fmt.Errorf("harness: max_retries must be >= 0: %w", contract.ErrInvalidInput)
	}
	if o.RepoURL == "" {
		o.RepoURL = DefaultRepoURL
	}
	if o.JarDest == "" {
		o.JarDest = DefaultJarDest
	}
	if len(o.RunCmd) == 0 {
		o.RunCmd = append([]string(nil), DefaultRunCmd...)
	}
	if o.LockFile == "" {
		o.LockFile = filepath.Clean(o.Dir) + ".lock"
	}
	if (o.Jar != "" || len(o.BuildCmd) > 0) && o.EngineDir == "" {
		return nil, fmt.Errorf("harness: engine_dir required for build_cmd/jar: %w", contract.ErrInvalidInput)
	}
	timeout := defaultTimeout
	if o.TimeoutSeconds > 0 {
		timeout = time.Duration(o.TimeoutSeconds) * time.Second
	}
	return &Acquirer{opts: o, reader: reader, runner: execRunner{}, timeout: timeout}, nil
}

// WithRunner 替换命令执行器（测试使用）。
func (a *Acquirer) WithRunner(r Runner) *Acquirer {
	a.runner = r
	return a
}

var _ contract.Acquirer = (*Acquirer)(nil)

// Acquire 执行：加锁 → 克隆/更新 → 构建 → 复制 jar → 运行工具 → 收集文档。
// 任一步失败均以 ErrAcquire 包装返回（ctx 取消除外）。
func (a *Acquirer) Acquire(ctx context.Context) ([]contract.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(a.opts.LockFile), 0o755); err != nil {
		return nil, wrap("lock", err)
	}
	lock := flock.New(a.opts.LockFile)
	ok, err := lock.TryLockContext(ctx, lockPollDelay)
	if err != nil {
		return nil, wrap("lock", err)
	}
	if !ok {
		return nil, wrap("lock", errors.New("lock not acquired"))
	}
	defer func() { _ = lock.Unlock() }()

	if err := a.checkout(ctx); err != nil {
		return nil, err
	}
	if len(a.opts.BuildCmd) > 0 {
		if err := a.run(ctx, "build", a.opts.EngineDir, a.opts.BuildCmd); err != nil {
			return nil, err
		}
	}
	if a.opts.Jar != "" {
		src := filepath.Join(a.opts.EngineDir, a.opts.Jar)
		if err := copyFile(src, filepath.Join(a.opts.Dir, a.opts.JarDest)); err != nil {
			return nil, wrap("copy jar", err)
		}
	}
	if err := a.run(ctx, "run", a.opts.Dir, a.opts.RunCmd); err != nil {
		return nil, err
	}
	docs, err := dir.Collect(ctx, a.reader, a.opts.Dir)
	if err != nil {
		return nil, wrap("collect", err)
	}
	if len(docs) == 0 {
		return nil, wrap("collect", fmt.Errorf("no documents in %s", a.opts.Dir))
	}
	return docs, nil
}

func (a *Acquirer) checkout(ctx context.Context) error {
	if st, err := os.Stat(filepath.Join(a.opts.Dir, ".git")); err == nil && st.IsDir() {
		if a.opts.Update {
			return a.run(ctx, "update", a.opts.Dir, []string{"git", "pull", "--ff-only"})
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(a.opts.Dir)), 0o755); err != nil {
		return wrap("clone", err)
	}
	argv := []string{"git", "clone", "--depth", "1"}
	if a.opts.Ref != "" {
		argv = append(argv, "--branch", a.opts.Ref)
	}
	argv = append(argv, a.opts.RepoURL, filepath.Clean(a.opts.Dir))
	return a.run(ctx, "clone", "", argv)
}

// run 执行命令；失败时按 MaxRetries 重试，取消/超时不重试。
func (a *Acquirer) run(ctx context.Context, step, workdir string, argv []string) error {
	attempts := a.opts.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := a.runner.Run(ctx, workdir, argv)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("harness %s: %w", step, ctx.Err())
		}
		lastErr = fmt.Errorf("%s: %w%s", strings.Join(argv, " "), err, tail(out))
		if attempt+1 < attempts {
			if err := sleepWithCtx(ctx, retryDelay); err != nil {
				return fmt.Errorf("harness %s: %w", step, err)
			}
		}
	}
	return wrap(step, lastErr)
}

func wrap(step string, err error) error {
	return fmt.Errorf("%w: harness %s: %w", contract.ErrAcquire, step, err)
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return ""
	}
	if len(s) > outputTailBytes {
		s = "…" + s[len(s)-outputTailBytes:]
	}
	return "\n" + s
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
