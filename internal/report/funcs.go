package report

import (
	"strings"

	"featuretrack/internal/aggregate"
)

// Funcs 返回模板辅助函数；调用方合并进 sprig 的 FuncMap。
func Funcs() map[string]any {
	return map[string]any{
		"rate":       Rate,
		"statusIcon": StatusIcon,
		"compatIcon": CompatIcon,
		"agreeIcon":  AgreeIcon,
		"cell":       Cell,
	}
}

// StatusIcon: test262 分档图标。
func StatusIcon(status string) string {
	switch status {
	case aggregate.StatusFull:
		return "✅"
	case aggregate.StatusMostly:
		return "🟢"
	case aggregate.StatusPartial:
		return "🟡"
	case aggregate.StatusLimited:
		return "🟠"
	}
	return "🔴"
}

// CompatIcon: 兼容矩阵结论图标；空值表示无数据。
func CompatIcon(status string) string {
	switch status {
	case aggregate.CompatSupported:
		return "✅"
	case aggregate.CompatPartial:
		return "🟡"
	case aggregate.CompatUnsupported:
		return "❌"
	}
	return "—"
}

// AgreeIcon: 一致 ✅，不一致 ⚠️，无法比较为空。
func AgreeIcon(a *bool) string {
	if a == nil {
		return ""
	}
	if *a {
		return "✅"
	}
	return "⚠️"
}

// Cell 转义 Markdown 表格单元中的竖线与换行。
func Cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
