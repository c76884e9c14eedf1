package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"

	"featuretrack/internal/aggregate"
	"featuretrack/internal/compat"
	"featuretrack/internal/diag"
	"featuretrack/internal/mapping"
	"featuretrack/internal/results"
	"featuretrack/pkg/contract"
)

// - 顺序阶段：acquire → read → aggregate 串行执行，核心聚合无 I/O、无并发。
// - 渲染并发：各 Emitter 在有界 conc 池中并行，单工件单写者。
// - 首错取消：任一渲染/写出失败即取消其余任务，返回首错。

// Components 聚合运行所需的组件。
type Components struct {
	// Reader: 读取 Source A（test262.properties）。
	Reader contract.Reader
	// Acquirer: 产出 Source B 文档。
	Acquirer contract.Acquirer
	Emitters []contract.Emitter
	Writer   contract.Writer
	// Mapping: nil 使用内置映射表。
	Mapping *mapping.Table
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// Results: Source A 输入根（文件、URL 或 "-"）；多个文件按顺序累加。
	Results []string
	// SuiteOrder: 同名特性冲突时的套件优先级（先出现者胜）。
	SuiteOrder []string
	// Versions: 版本标识优先级；空则使用 compat.DefaultVersions。
	Versions []string
	// Concurrency: 渲染并发度；<=0 表示每个 Emitter 一个。
	Concurrency int
	// MaxRetries: 写出阶段 I/O 错误的重试次数（>=0）。
	MaxRetries int
}

// Result: 一次运行的产物摘要。
type Result struct {
	Model     *contract.FeatureModel
	Documents int
	Artifacts []contract.ArtifactID
}

// Run 执行完整流水线：Acquirer → Reader → Aggregate → Emitters → Writer。
// 获取与读取失败直接返回（不进入聚合）；两侧均无数据返回 contract.ErrNoData。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (*Result, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if logger == nil {
		logger = diag.Nop()
	}
	versions := set.Versions
	if len(versions) == 0 {
		versions = compat.DefaultVersions
	}

	// 1) 获取兼容矩阵文档
	docs, err := stage(ctx, logger, "acquirer", "acquire", func() ([]contract.Document, int64, string, error) {
		d, err := comp.Acquirer.Acquire(ctx)
		return d, int64(len(d)), fmt.Sprintf("文档 %d", len(d)), err
	})
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	docs = compat.OrderDocuments(docs, set.SuiteOrder)

	// 2) 读取 test262 结果
	res, err := stage(ctx, logger, "reader", "read", func() (*results.Result, int64, string, error) {
		r, err := readResults(ctx, comp.Reader, set.Results, logger)
		if err != nil {
			return nil, 0, "", err
		}
		return r, int64(len(r.Records)), fmt.Sprintf("记录 %d | 跳过 %d", len(r.Records), r.Skipped), nil
	})
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	// 3) 聚合（纯函数）
	model, err := stage(ctx, logger, "aggregate", "build", func() (*contract.FeatureModel, int64, string, error) {
		m, err := aggregate.Build(res, compat.Load(docs, versions), comp.Mapping)
		if err != nil {
			return nil, 0, "", err
		}
		return m, int64(len(m.Features)), fmt.Sprintf("特性 %d | 分类 %d", len(m.Features), len(m.Categories)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	reportDiagnostics(logger, model.Diagnostics)

	// 4) 并发渲染与写出；阶段整体计在 output 下，单个报告计在 emitter 下
	arts, err := stage(ctx, logger, "output", "emit", func() ([]contract.ArtifactID, int64, string, error) {
		a, err := emitAll(ctx, comp, set, model, logger)
		return a, int64(len(a)), "", err
	})
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	return &Result{Model: model, Documents: len(docs), Artifacts: arts}, nil
}

// stage 统一阶段日志、计数与终端提示。
func stage[T any](ctx context.Context, logger *diag.Logger, comp, name string, fn func() (T, int64, string, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	term := diag.GetTerminal()
	term.StageStart(name)
	timer := logger.Start(comp, name)
	v, count, detail, err := fn()
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWithKV(comp, string(code), name+" failed", timer.Since(), "", map[string]string{"err": err.Error()})
		diag.IncOp(comp, diag.StageError, "error")
		if code != diag.CodeUnknown {
			diag.IncError(comp, string(code))
		}
		term.StageDone(name, false, time.Since(*timer.Since()), "")
		return zero, err
	}
	timer.Finish(name, count)
	diag.IncOp(comp, diag.StageFinish, "success")
	term.StageDone(name, true, time.Since(*timer.Since()), detail)
	return v, nil
}

// readResults 依次读取所有根下的文件并累加到同一结果。
func readResults(ctx context.Context, r contract.Reader, roots []string, logger *diag.Logger) (*results.Result, error) {
	res := results.New()
	err := r.Iterate(ctx, roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		before, skipped := len(res.Records), res.Skipped
		if err := res.Consume(rc); err != nil {
			return fmt.Errorf("read %s: %w", id, err)
		}
		logger.Debug("reader", "consumed", string(id), map[string]string{
			"records": strconv.Itoa(len(res.Records) - before),
			"skipped": strconv.Itoa(res.Skipped - skipped),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// reportDiagnostics: 被吸收的数据问题以 warn 记录，不影响退出码。
func reportDiagnostics(logger *diag.Logger, d contract.Diagnostics) {
	if d.SkippedLines > 0 {
		logger.Warn("reader", "skipped malformed lines", map[string]string{"count": strconv.Itoa(d.SkippedLines)})
	}
	for _, sd := range d.SkippedDocuments {
		logger.Warn("compat", "skipped document", map[string]string{"suite": sd.Suite, "reason": sd.Reason})
	}
	if d.DroppedFeatures > 0 {
		logger.Warn("compat", "dropped unresolved features", map[string]string{"count": strconv.Itoa(d.DroppedFeatures)})
	}
}

// emitAll 在 conc 池中并行渲染；首错取消其余任务。
// 返回的工件顺序与 Emitters 顺序一致。
func emitAll(ctx context.Context, comp Components, set Settings, model *contract.FeatureModel, logger *diag.Logger) ([]contract.ArtifactID, error) {
	n := set.Concurrency
	if n <= 0 || n > len(comp.Emitters) {
		n = len(comp.Emitters)
	}
	arts := make([]contract.ArtifactID, len(comp.Emitters))
	p := pool.New().WithMaxGoroutines(n).WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, e := range comp.Emitters {
		i, e := i, e
		p.Go(func(ctx context.Context) error {
			id := e.Artifact()
			timer := logger.StartWith("emitter", "render", string(id))
			r, err := e.Emit(ctx, model)
			if err != nil {
				fail(logger, "emitter", "render", id, timer, err)
				return fmt.Errorf("%s: %w", id, err)
			}
			timer.Finish("render", 0)
			diag.IncOp("emitter", diag.StageFinish, "success")

			if err := write(ctx, comp.Writer, id, r, set.MaxRetries, logger); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			arts[i] = id
			diag.GetTerminal().ArtifactDone(string(id))
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return arts, nil
}

// write 写出单个工件；仅 I/O 类错误按 MaxRetries 重试（渲染结果先缓冲，可重放）。
func write(ctx context.Context, w contract.Writer, id contract.ArtifactID, r io.Reader, maxRetries int, logger *diag.Logger) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	timer := logger.StartWith("writer", "write", string(id))
	attempts := maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		err = w.Write(ctx, id, bytes.NewReader(data))
		if err == nil {
			timer.Finish("write", int64(len(data)))
			diag.IncOp("writer", diag.StageFinish, "success")
			return nil
		}
		if attempt+1 < attempts && shouldRetryWrite(err) {
			logger.Warn("writer", "retry write", map[string]string{
				"artifact": string(id),
				"attempt":  strconv.Itoa(attempt + 1),
				"err":      err.Error(),
			})
			if serr := sleepWithCtx(ctx, 200*time.Millisecond); serr != nil {
				err = serr
				break
			}
			continue
		}
		break
	}
	fail(logger, "writer", "write", id, timer, err)
	return err
}

func fail(logger *diag.Logger, comp, stage string, id contract.ArtifactID, timer *diag.Timer, err error) {
	code := diag.Classify(err)
	logger.ErrorWithKV(comp, string(code), stage+" failed", timer.Since(), string(id), map[string]string{"err": err.Error()})
	diag.IncOp(comp, diag.StageError, "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Acquirer == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(c.Emitters) == 0 {
		return errors.New("pipeline: no emitters")
	}
	if len(s.Results) == 0 {
		return errors.New("pipeline: empty results inputs")
	}
	if s.MaxRetries < 0 {
		return errors.New("pipeline: max_retries must be >= 0")
	}
	seen := make(map[contract.ArtifactID]struct{}, len(c.Emitters))
	for _, e := range c.Emitters {
		if e == nil {
			return errors.New("pipeline: nil emitter")
		}
		id := e.Artifact()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("pipeline: duplicate artifact %q: %w", id, contract.ErrInvalidInput)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// shouldRetryWrite: 仅 I/O 错误重试；取消与路径非法不重试。
func shouldRetryWrite(err error) bool {
	if err == nil || errors.Is(err, contract.ErrPathInvalid) {
		return false
	}
	return diag.Classify(err) == diag.CodeIO
}

// sleepWithCtx: 可取消的 sleep（最小实现）。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
