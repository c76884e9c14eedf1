package contract

import "math"

// PassRate 计算通过率百分比，保留一位小数。
// passed+failed 为 0 时返回 nil；结果总在 [0,100] 内，不会出现 NaN/Inf。
func PassRate(passed, failed uint) *float64 {
	total := passed + failed
	if total == 0 {
		return nil
	}
	v := Round1(float64(passed) / float64(total) * 100)
	return &v
}

// Round1 四舍五入到一位小数。
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

// Ratio 与 PassRate 相同的取整规则，适用于 int 计数。
func Ratio(part, total int) *float64 {
	if total <= 0 || part < 0 {
		return nil
	}
	v := Round1(float64(part) / float64(total) * 100)
	return &v
}
