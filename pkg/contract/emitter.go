package contract

import (
	"context"
	"io"
)

// Emitter: 将只读 FeatureModel 渲染为单个报告工件。
// 约束：不得修改 model；同一 Emitter 仅产出 Artifact() 指定的一个工件。
type Emitter interface {
	Artifact() ArtifactID
	Emit(ctx context.Context, model *FeatureModel) (io.Reader, error)
}
