package afsreader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"

	"featuretrack/pkg/contract"
)

// Options 为 afs Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize: STDIN 读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Include: 目录扫描时的文件基名匹配模式（doublestar 语法）；为空表示全部。
	// 仅影响目录扫描，不影响单文件 root。
	Include []string `json:"include"`
	// ExcludeDirNames: 扫描时跳过的目录名（基名，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// MaxDepth: 目录递归深度；1 表示仅 root 一层，0 表示不限。
	MaxDepth int `json:"max_depth"`
}

// Reader 基于 afs 的 Reader：root 可以是本地路径或 afs 支持的 URL（file://、mem:// 等）。
type Reader struct {
	fs         afs.Service
	bufSize    int
	include    []string
	excludeDir map[string]struct{}
	maxDepth   int
}

// New 创建 Reader；非法 include 模式返回 ErrInvalidInput。
func New(opts *Options) (*Reader, error) {
	return NewWithService(afs.New(), opts)
}

// NewWithService 使用给定 afs.Service（例如测试中的 mem 存储）。
func NewWithService(fs afs.Service, opts *Options) (*Reader, error) {
	const defaultBuf = 64 * 1024
	r := &Reader{fs: fs, bufSize: defaultBuf, excludeDir: map[string]struct{}{}}
	if opts == nil {
		return r, nil
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, p := range opts.Include {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Join(contract.ErrInvalidInput, errors.New("afsreader: bad include pattern "+p))
		}
		r.include = append(r.include, p)
	}
	for _, n := range opts.ExcludeDirNames {
		if n != "" {
			r.excludeDir[strings.ToLower(n)] = struct{}{}
		}
	}
	if opts.MaxDepth > 0 {
		r.maxDepth = opts.MaxDepth
	}
	return r, nil
}

// Iterate 遍历 roots，按稳定顺序（目录内字典序，先子目录后文件）对每个文件调用 yield。
// roots 为空或仅含 "-" 时读取 STDIN。
func (r *Reader) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(os.Stdin, r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	obj, err := r.fs.Object(ctx, root)
	if err != nil {
		return &os.PathError{Op: "stat", Path: root, Err: err}
	}
	if obj.IsDir() {
		return r.walkDir(ctx, root, 1, yield)
	}
	return r.emit(ctx, root, yield)
}

func (r *Reader) walkDir(ctx context.Context, dir string, depth int, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objs, err := r.fs.List(ctx, dir)
	if err != nil {
		return &os.PathError{Op: "list", Path: dir, Err: err}
	}
	// afs 的 List 结果首项为目录自身
	self := strings.TrimRight(url.Normalize(dir, "file"), "/")
	base := path.Base(strings.TrimRight(strings.ReplaceAll(dir, "\\", "/"), "/"))
	var dirs, files []storage.Object
	for i, o := range objs {
		if strings.TrimRight(o.URL(), "/") == self || (i == 0 && o.IsDir() && o.Name() == base) {
			continue
		}
		if o.IsDir() {
			dirs = append(dirs, o)
		} else {
			files = append(files, o)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	if r.maxDepth == 0 || depth < r.maxDepth {
		for _, d := range dirs {
			if _, skip := r.excludeDir[strings.ToLower(d.Name())]; skip {
				continue
			}
			if err := r.walkDir(ctx, join(dir, d.Name()), depth+1, yield); err != nil {
				return err
			}
		}
	}
	for _, f := range files {
		if !r.included(f.Name()) {
			continue
		}
		if err := r.emit(ctx, join(dir, f.Name()), yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) included(name string) bool {
	if len(r.include) == 0 {
		return true
	}
	for _, p := range r.include {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (r *Reader) emit(ctx context.Context, loc string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := r.fs.DownloadWithURL(ctx, loc)
	if err != nil {
		return &os.PathError{Op: "read", Path: loc, Err: err}
	}
	return yield(contract.NormalizeFileID(loc), io.NopCloser(bytes.NewReader(data)))
}

// join 保持 root 的形态：本地路径用 '/' 拼接，URL 交给 afs。
func join(base, name string) string {
	if strings.Contains(base, "://") {
		return url.Join(base, name)
	}
	return path.Join(strings.ReplaceAll(base, "\\", "/"), name)
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
