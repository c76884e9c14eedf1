package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"featuretrack/internal/mapping"
	"featuretrack/pkg/contract"
	"featuretrack/plugins/emitter/dashboard"
	"featuretrack/plugins/emitter/jsonreport"
	"featuretrack/plugins/emitter/markdown"
)

// discardWriter 丢弃所有输出，避免磁盘开销。
type discardWriter struct{}

func (discardWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// syntheticResults 按映射表生成 n 行结果，约 1/7 失败。
func syntheticResults(n int) string {
	rows := mapping.Default().Rows()
	var b strings.Builder
	for i := 0; i < n; i++ {
		r := rows[i%len(rows)]
		fmt.Fprintf(&b, "%s/case-%d.js", r.Path, i)
		if i%7 == 0 {
			b.WriteString(" ~")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// BenchmarkPipeline 测试完整流水线（内置三个 Emitter）的性能。
func BenchmarkPipeline(b *testing.B) {
	for _, n := range []int{1_000, 50_000} {
		b.Run(fmt.Sprintf("lines=%d", n), func(b *testing.B) {
			js, _ := jsonreport.New(nil)
			md, _ := markdown.New(nil)
			db, _ := dashboard.New(nil)
			comp := Components{
				Reader:   stubReader{files: map[string]string{"r": syntheticResults(n)}},
				Acquirer: &stubAcquirer{docs: []contract.Document{{Suite: "es6", Data: []byte(`{"Promise":{"rhino1_8_1":true},"Map":{"rhino1_8_1":false}}`)}}},
				Emitters: []contract.Emitter{js, md, db},
				Writer:   discardWriter{},
			}
			set := Settings{Results: []string{"r"}}
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Run(ctx, comp, set, nil); err != nil {
					b.Fatalf("运行失败: %v", err)
				}
			}
		})
	}
}
