package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"featuretrack/internal/diag"
	"featuretrack/pkg/contract"
)

// 通用桩件 ----------------------------------------------------
type stubReader struct{ files map[string]string }

func (s stubReader) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	for _, r := range roots {
		text, ok := s.files[r]
		if !ok {
			return &fs.PathError{Op: "open", Path: r, Err: fs.ErrNotExist}
		}
		if err := yield(contract.FileID(r), io.NopCloser(strings.NewReader(text))); err != nil {
			return err
		}
	}
	return nil
}

type stubAcquirer struct {
	docs  []contract.Document
	err   error
	calls int
}

func (a *stubAcquirer) Acquire(ctx context.Context) ([]contract.Document, error) {
	a.calls++
	return a.docs, a.err
}

type stubEmitter struct {
	id    contract.ArtifactID
	err   error
	block bool
	calls int
}

func (e *stubEmitter) Artifact() contract.ArtifactID { return e.id }

func (e *stubEmitter) Emit(ctx context.Context, m *contract.FeatureModel) (io.Reader, error) {
	e.calls++
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return strings.NewReader(string(e.id) + ":" + m.Features[0].Name), nil
}

type memWriter struct {
	mu    sync.Mutex
	files map[contract.ArtifactID]string
	fails int
	tries int
}

func (w *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tries++
	if w.fails > 0 {
		w.fails--
		return &fs.PathError{Op: "write", Path: string(id), Err: errors.New("disk hiccup")}
	}
	var b bytes.Buffer
	if _, err := io.Copy(&b, r); err != nil {
		return err
	}
	if w.files == nil {
		w.files = map[contract.ArtifactID]string{}
	}
	w.files[id] = b.String()
	return nil
}

const sampleResults = `# test262
built-ins/Array/from/a.js
built-ins/Array/from/b.js ~
language/statements/class/x.js
`

func baseComponents() (Components, *stubAcquirer, *memWriter) {
	acq := &stubAcquirer{docs: []contract.Document{
		{Suite: "es2016plus", Data: []byte(`{"Array.from":{"rhino1_8_1":false}}`)},
		{Suite: "es6", Data: []byte(`{"Array.from":{"rhino1_8_1":true},"let":{"rhino1_8_1":true}}`)},
	}}
	w := &memWriter{}
	return Components{
		Reader:   stubReader{files: map[string]string{"test262.properties": sampleResults}},
		Acquirer: acq,
		Emitters: []contract.Emitter{&stubEmitter{id: "a.json"}, &stubEmitter{id: "b.md"}},
		Writer:   w,
	}, acq, w
}

func baseSettings() Settings {
	return Settings{Results: []string{"test262.properties"}, SuiteOrder: []string{"es6"}}
}

// TestRunSuccess 全流程：获取、读取、聚合、并发渲染与写出。
func TestRunSuccess(t *testing.T) {
	diag.ResetMetrics()
	comp, acq, w := baseComponents()
	res, err := Run(context.Background(), comp, baseSettings(), diag.Nop())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if acq.calls != 1 {
		t.Fatalf("acquire 调用次数=%d", acq.calls)
	}
	if res.Documents != 2 || len(res.Artifacts) != 2 || res.Artifacts[0] != "a.json" || res.Artifacts[1] != "b.md" {
		t.Fatalf("结果不符: %+v", res)
	}
	if got := w.files["a.json"]; got != "a.json:built-ins/Array/from" {
		t.Fatalf("工件内容不符: %q", got)
	}
	if res.Model.Summary.TotalTests != 3 {
		t.Fatalf("total=%d", res.Model.Summary.TotalTests)
	}
	// es6 排在前面：Array.from 取 es6 的结果
	arr := res.Model.Features[0]
	if arr.Compat == nil || !arr.Compat.Supported || arr.Suite != "es6" {
		t.Fatalf("套件优先级不符: %+v", arr)
	}
	if n := diag.Metrics().Count("emitter/finish/success"); n != 2 {
		t.Fatalf("emitter 计数=%d", n)
	}
	if n := diag.Metrics().Count("output/finish/success"); n != 1 {
		t.Fatalf("output 阶段计数=%d", n)
	}
}

// TestRunMultipleResultFiles 多个结果文件累加。
func TestRunMultipleResultFiles(t *testing.T) {
	comp, _, _ := baseComponents()
	comp.Reader = stubReader{files: map[string]string{
		"a.properties": "built-ins/Array/from/a.js\n",
		"b.properties": "built-ins/Array/from/b.js ~\nbad$line\n",
	}}
	set := baseSettings()
	set.Results = []string{"a.properties", "b.properties"}
	res, err := Run(context.Background(), comp, set, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Model.Summary.TotalTests != 2 || res.Model.Diagnostics.SkippedLines != 1 {
		t.Fatalf("累加不符: %+v", res.Model.Summary)
	}
}

// TestRunAcquireFailure 获取失败时不进入聚合与渲染。
func TestRunAcquireFailure(t *testing.T) {
	comp, acq, w := baseComponents()
	acq.err = contract.ErrAcquire
	_, err := Run(context.Background(), comp, baseSettings(), diag.Nop())
	if !errors.Is(err, contract.ErrAcquire) {
		t.Fatalf("应返回 ErrAcquire: %v", err)
	}
	if e := comp.Emitters[0].(*stubEmitter); e.calls != 0 || len(w.files) != 0 {
		t.Fatalf("获取失败后不应渲染")
	}
}

// TestRunReadFailure 结果文件缺失。
func TestRunReadFailure(t *testing.T) {
	comp, _, _ := baseComponents()
	set := baseSettings()
	set.Results = []string{"missing.properties"}
	_, err := Run(context.Background(), comp, set, diag.Nop())
	if diag.Classify(err) != diag.CodeIO {
		t.Fatalf("应为 io 错误: %v", err)
	}
}

// TestRunNoData 两侧均为空。
func TestRunNoData(t *testing.T) {
	comp, acq, _ := baseComponents()
	acq.docs = nil
	comp.Reader = stubReader{files: map[string]string{"test262.properties": "# nothing\n"}}
	_, err := Run(context.Background(), comp, baseSettings(), diag.Nop())
	if !errors.Is(err, contract.ErrNoData) {
		t.Fatalf("应返回 ErrNoData: %v", err)
	}
}

// TestRunEmitterFirstErrorCancels 首错取消其余渲染。
func TestRunEmitterFirstErrorCancels(t *testing.T) {
	comp, _, _ := baseComponents()
	boom := errors.New("boom")
	blocker := &stubEmitter{id: "slow.html", block: true}
	comp.Emitters = []contract.Emitter{blocker, &stubEmitter{id: "bad.md", err: boom}}
	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), comp, baseSettings(), diag.Nop())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("应返回首错: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("首错未取消阻塞的 emitter")
	}
}

// TestWriteRetry I/O 错误按 MaxRetries 重试。
func TestWriteRetry(t *testing.T) {
	comp, _, w := baseComponents()
	w.fails = 1
	set := baseSettings()
	set.MaxRetries = 1
	set.Concurrency = 1
	if _, err := Run(context.Background(), comp, set, diag.Nop()); err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if w.tries != 3 {
		t.Fatalf("写出尝试次数=%d", w.tries)
	}

	comp, _, w = baseComponents()
	w.fails = 1
	set.MaxRetries = 0
	_, err := Run(context.Background(), comp, set, diag.Nop())
	if diag.Classify(err) != diag.CodeIO {
		t.Fatalf("不重试时应返回 io 错误: %v", err)
	}
}

// TestSanity 组件缺失与工件重名。
func TestSanity(t *testing.T) {
	comp, _, _ := baseComponents()
	comp.Writer = nil
	if _, err := Run(context.Background(), comp, baseSettings(), nil); err == nil {
		t.Fatalf("缺少 writer 应报错")
	}
	comp, _, _ = baseComponents()
	comp.Emitters = []contract.Emitter{&stubEmitter{id: "x"}, &stubEmitter{id: "x"}}
	if _, err := Run(context.Background(), comp, baseSettings(), nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("重名工件应报错: %v", err)
	}
	comp, _, _ = baseComponents()
	if _, err := Run(context.Background(), comp, Settings{}, nil); err == nil {
		t.Fatalf("缺少结果输入应报错")
	}
}

// TestRunCanceled 已取消的 ctx 不调用获取器。
func TestRunCanceled(t *testing.T) {
	comp, acq, _ := baseComponents()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, comp, baseSettings(), nil)
	if !errors.Is(err, context.Canceled) || acq.calls != 0 {
		t.Fatalf("取消后不应获取: %v calls=%d", err, acq.calls)
	}
}
