package compat

import (
	"strings"
	"unicode"

	"github.com/blang/semver/v4"
)

// VersionLabel 将版本标识渲染为可读标签，例如 rhino1_8_1 -> "Rhino 1.8.1"。
// 无法识别的形状原样返回。
func VersionLabel(id string) string {
	i := strings.IndexFunc(id, unicode.IsDigit)
	if i <= 0 {
		return id
	}
	name, num := id[:i], strings.ReplaceAll(id[i:], "_", ".")
	v, err := semver.ParseTolerant(num)
	if err != nil {
		return id
	}
	return strings.ToUpper(name[:1]) + name[1:] + " " + v.String()
}
