package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 带 scheme 的 URL（如 file://、mem://）仅清理路径部分
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	if i := strings.Index(s, "://"); i > 0 {
		scheme, rest := s[:i+3], s[i+3:]
		if rest == "" {
			return FileID(scheme)
		}
		lead := strings.HasPrefix(rest, "/")
		rest = path.Clean(rest)
		if lead && !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
		return FileID(scheme + rest)
	}
	return FileID(path.Clean(s))
}

// BaseName 返回 FileID 的最后一段（不含目录）。
func (id FileID) BaseName() string { return path.Base(string(id)) }
