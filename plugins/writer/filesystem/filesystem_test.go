package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"featuretrack/pkg/contract"
)

func noTmp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// 原子写入，目标已存在时替换
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), "FEATURES.md", bytes.NewBufferString("v1")); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if err := w.Write(context.Background(), "FEATURES.md", bytes.NewBufferString("v2")); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "FEATURES.md"))
	if err != nil || string(b) != "v2" {
		t.Fatalf("expect replaced content v2, got %v %q", err, string(b))
	}
	noTmp(t, dir)
	if got := w.Written(); len(got) != 1 || got[0] != filepath.Join(dir, "FEATURES.md") {
		t.Fatalf("written: %v", got)
	}
}

// options 中的 output_dir 优先于默认目录
func TestOptionsOutputDirWins(t *testing.T) {
	def, opt := t.TempDir(), t.TempDir()
	w, err := New(def, &Options{OutputDir: opt})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if w.Root() != opt {
		t.Fatalf("root: %s", w.Root())
	}
}

func TestWritePathInvalid(t *testing.T) {
	w, _ := New(t.TempDir(), nil)
	for _, id := range []string{"../bad", "..", ".", "/abs/x.json", "a/../../x"} {
		if err := w.Write(context.Background(), contract.ArtifactID(id), bytes.NewBufferString("x")); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("id %q expect path invalid, got %v", id, err)
		}
	}
}

// 非原子写入，支持子目录
func TestWriteNonAtomicSubdir(t *testing.T) {
	dir := t.TempDir()
	a := false
	w, _ := New(dir, &Options{Atomic: &a})
	if err := w.Write(context.Background(), "reports/rhino-features.json", bytes.NewBufferString("{}")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "reports", "rhino-features.json")); err != nil {
		t.Fatalf("file not created")
	}
}

// 不同工件并发写
func TestConcurrentArtifacts(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(dir, nil)
	var wg sync.WaitGroup
	for _, id := range []string{"a.json", "b.md", "c.html"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := w.Write(context.Background(), contract.ArtifactID(id), strings.NewReader(id)); err != nil {
				t.Errorf("write %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
	if len(w.Written()) != 3 {
		t.Fatalf("written: %v", w.Written())
	}
	noTmp(t, dir)
}

func TestWriteCtxCancel(t *testing.T) {
	w, _ := New(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "a.txt", strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect ctx error, got %v", err)
	}
}

func TestNewInvalid(t *testing.T) {
	if _, err := New("", nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("expect error for empty output dir")
	}
	if _, err := New(" ", &Options{}); err == nil {
		t.Fatalf("expect error for blank output dir")
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// 原子写入时拷贝失败不残留临时文件
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(dir, nil)
	if err := w.Write(context.Background(), "a.txt", errReader{}); err == nil {
		t.Fatalf("expect copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp files left %v", entries)
	}
	if len(w.Written()) != 0 {
		t.Fatalf("failed write must not be recorded")
	}
}

func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	if _, err := r.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expect ctx error")
	}
}
