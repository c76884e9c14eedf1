package diag

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// 事件阶段
const (
	StageStart  = "start"
	StageFinish = "finish"
	StageError  = "error"
	StageWarn   = "warn"
)

// Options: Logger 构造参数。
type Options struct {
	CorrID string
	// Level: debug|info|warn|error，默认 info。
	Level string
	// Dir: 文件日志目录；为空则不写文件。
	Dir string
	// MaxBytes: 单个日志文件上限，0 为 10 MiB。
	MaxBytes int64
	// Console: 控制台输出（通常为 stderr）；nil 表示关闭。
	Console io.Writer
	// ConsoleColor: 控制台是否着色。
	ConsoleColor bool
}

// Logger 为组件生命周期日志器：文件侧为单行 JSON（轮转），控制台侧为 tint 文本。
// 每条事件携带 corr_id/comp/stage，可附带 code、dur_ms、count、file_id 与 kv。
type Logger struct {
	corrID string
	s      *slog.Logger
	sink   *RotatingFile
}

// NewCorrID 生成一次运行的关联 ID。
func NewCorrID() string { return uuid.NewString() }

// ParseLevel 解析级别字符串；未知值视为 info。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger 按选项构造 Logger。文件侧遵循 Level；控制台侧在 debug 时跟随 Level，否则仅 warn 及以上。
func NewLogger(opts Options) *Logger {
	if opts.CorrID == "" {
		opts.CorrID = NewCorrID()
	}
	lvl := ParseLevel(opts.Level)
	var hs []slog.Handler
	var sink *RotatingFile
	if opts.Dir != "" {
		sink = NewRotatingFile(opts.Dir, opts.MaxBytes)
		hs = append(hs, slog.NewJSONHandler(sink, &slog.HandlerOptions{
			Level: lvl,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				switch a.Key {
				case slog.TimeKey:
					a.Key = "ts"
					a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
				case slog.LevelKey:
					a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
				}
				return a
			},
		}))
	}
	if opts.Console != nil {
		clvl := slog.LevelWarn
		if lvl == slog.LevelDebug {
			clvl = lvl
		}
		hs = append(hs, tint.NewHandler(opts.Console, &tint.Options{
			Level:      clvl,
			TimeFormat: time.Kitchen,
			NoColor:    !opts.ConsoleColor,
		}))
	}
	var h slog.Handler = discardHandler{}
	switch len(hs) {
	case 0:
	case 1:
		h = hs[0]
	default:
		h = teeHandler(hs)
	}
	return &Logger{
		corrID: opts.CorrID,
		s:      slog.New(h).With("corr_id", opts.CorrID),
		sink:   sink,
	}
}

// Nop 返回不输出任何内容的 Logger。
func Nop() *Logger { return NewLogger(Options{CorrID: "-"}) }

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Close 关闭文件侧。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

type event struct {
	comp, stage, code, fileID string
	dur                       time.Duration
	count                     int64
	kv                        map[string]string
}

func (l *Logger) log(lv slog.Level, msg string, ev event) {
	if l == nil || !l.s.Enabled(context.Background(), lv) {
		return
	}
	attrs := make([]slog.Attr, 0, 7)
	attrs = append(attrs, slog.String("comp", ev.comp), slog.String("stage", ev.stage))
	if ev.code != "" {
		attrs = append(attrs, slog.String("code", ev.code))
	}
	if ev.dur > 0 {
		attrs = append(attrs, slog.Int64("dur_ms", ev.dur.Milliseconds()))
	}
	if ev.count != 0 {
		attrs = append(attrs, slog.Int64("count", ev.count))
	}
	if ev.fileID != "" {
		attrs = append(attrs, slog.String("file_id", ev.fileID))
	}
	if len(ev.kv) > 0 {
		kvs := make([]any, 0, len(ev.kv)*2)
		for _, k := range sortedKeys(ev.kv) {
			kvs = append(kvs, slog.String(k, ev.kv[k]))
		}
		attrs = append(attrs, slog.Group("kv", kvs...))
	}
	l.s.LogAttrs(context.Background(), lv, msg, attrs...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", nil)
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	return l.StartWithKV(comp, msg, fileID, nil)
}

// StartWithKV 记录带 file_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID string, kv map[string]string) *Timer {
	l.log(slog.LevelInfo, msg, event{comp: comp, stage: StageStart, fileID: fileID, kv: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", nil)
}

// ErrorWithKV 附带 file_id 与键值。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID string, kv map[string]string) {
	var dur time.Duration
	if durSince != nil {
		dur = time.Since(*durSince)
	}
	l.log(slog.LevelError, msg, event{comp: comp, stage: StageError, code: code, dur: dur, fileID: fileID, kv: kv})
}

// Warn 记录可恢复的数据问题（跳过的行/文档等）。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.log(slog.LevelWarn, msg, event{comp: comp, stage: StageWarn, kv: kv})
}

// Debug 仅在 level=debug 时输出。
func (l *Logger) Debug(comp, msg, fileID string, kv map[string]string) {
	l.log(slog.LevelDebug, msg, event{comp: comp, stage: StageStart, fileID: fileID, kv: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(slog.LevelInfo, msg, event{comp: comp, stage: StageFinish, dur: time.Since(start), count: count})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Since 返回起点，便于 Error 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	d := time.Since(t.t0)
	t.l.log(slog.LevelInfo, msg, event{comp: t.comp, stage: StageFinish, dur: d, count: count, fileID: t.fileID})
	ObserveDuration(t.comp, StageFinish, d.Milliseconds())
}
