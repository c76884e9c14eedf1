package contract

import "context"

// Acquirer: 产出一组命名的兼容矩阵文档（每个套件一个）。
// 约束：
//  1. 阻塞直至完成或 ctx 取消；超时/重试策略由实现自决；
//  2. 返回的文档顺序即加载优先级（同名特性先到先得）；
//  3. 失败以 ErrAcquire 包装上抛，核心不做重试。
type Acquirer interface {
	Acquire(ctx context.Context) ([]Document, error)
}
