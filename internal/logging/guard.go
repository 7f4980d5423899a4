package logging

import "github.com/sirupsen/logrus"

// OpGuard 标记一次操作是否正常走到了终点。调用方在入口创建 guard 并
// defer Done()，操作成功后调用 Success()；若作用域在 Success 之前退出
// （提前 return、panic 被上层 recover 等），Done 会输出 <op>.interrupted 警告。
type OpGuard struct {
	logger *logrus.Logger
	op     string
	failed bool
}

// NewOpGuard 创建处于 failed 状态的 guard，必须显式调用 Success 才算成功。
func NewOpGuard(logger *logrus.Logger, op string) *OpGuard {
	return &OpGuard{
		logger: logger,
		op:     op,
		failed: true,
	}
}

// Success 标记操作正常完成。
func (g *OpGuard) Success() {
	g.failed = false
}

// Done 在 defer 中调用；未标记成功时输出警告。
func (g *OpGuard) Done() {
	if g.failed {
		g.logger.WithField("op", g.op).Warnf("%s.interrupted", g.op)
	}
}
