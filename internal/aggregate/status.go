package aggregate

import "featuretrack/pkg/contract"

// 支持度分档（按 test262 通过率）。
const (
	StatusFull    = "Full"
	StatusMostly  = "Mostly"
	StatusPartial = "Partial"
	StatusLimited = "Limited"
	StatusNone    = "None"
)

// 兼容矩阵结论。
const (
	CompatSupported   = "supported"
	CompatPartial     = "partial"
	CompatUnsupported = "unsupported"
)

// Statuses: 分档，从高到低。
var Statuses = []string{StatusFull, StatusMostly, StatusPartial, StatusLimited, StatusNone}

// Status 将通过率映射到分档；nil 视为 None。
func Status(rate *float64) string {
	if rate == nil {
		return StatusNone
	}
	switch r := *rate; {
	case r >= 95:
		return StatusFull
	case r >= 75:
		return StatusMostly
	case r >= 25:
		return StatusPartial
	case r > 0:
		return StatusLimited
	}
	return StatusNone
}

// CompatStatus 汇总兼容结果：全部支持、部分支持或不支持。
func CompatStatus(c contract.CompatResult) string {
	s, t := c.SupportedCount()
	switch {
	case t > 0 && s == t:
		return CompatSupported
	case s > 0:
		return CompatPartial
	}
	return CompatUnsupported
}
