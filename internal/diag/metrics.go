package diag

import (
	"sort"
	"sync"
)

// 进程内计数器：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计值）

type counters struct {
	mu    sync.Mutex
	ops   map[string]int64
	errs  map[string]int64
	durMS map[string]int64
}

var metrics = newCounters()

func newCounters() *counters {
	return &counters{ops: map[string]int64{}, errs: map[string]int64{}, durMS: map[string]int64{}}
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	metrics.mu.Lock()
	metrics.ops[comp+"/"+stage+"/"+result]++
	metrics.mu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metrics.mu.Lock()
	metrics.errs[comp+"/"+code]++
	metrics.mu.Unlock()
}

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metrics.mu.Lock()
	metrics.durMS[comp+"/"+stage] += durMS
	metrics.mu.Unlock()
}

// Sample: 单个计数样本，Key 为 '/' 连接的标签值。
type Sample struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// Snapshot: 计数器快照（按 Key 排序）。
type Snapshot struct {
	Ops        []Sample `json:"ops"`
	Errors     []Sample `json:"errors"`
	DurationMS []Sample `json:"duration_ms"`
}

// Metrics 返回当前计数快照。
func Metrics() Snapshot {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	return Snapshot{Ops: samples(metrics.ops), Errors: samples(metrics.errs), DurationMS: samples(metrics.durMS)}
}

// ResetMetrics 清空计数（测试使用）。
func ResetMetrics() {
	metrics.mu.Lock()
	metrics.ops, metrics.errs, metrics.durMS = map[string]int64{}, map[string]int64{}, map[string]int64{}
	metrics.mu.Unlock()
}

// Count 返回某操作计数；不存在时为 0。
func (s Snapshot) Count(key string) int64 {
	for _, x := range s.Ops {
		if x.Key == key {
			return x.Value
		}
	}
	return 0
}

func samples(m map[string]int64) []Sample {
	out := make([]Sample, 0, len(m))
	for k, v := range m {
		out = append(out, Sample{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
