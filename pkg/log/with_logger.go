package log

import "go.uber.org/atomic"

// Binder 嵌入到长生命周期的组件（Manager、Client、Gateway、Recorder 等）中，
// 让组件通过 WithLogger 选项注入模块 Logger。
//
// 说明：
//   - 未注入时回退到全局 Logger；
//   - SetLogger 与 Logger 可以并发调用。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// SetLogger 绑定组件 Logger，传入 nil 时恢复为全局 Logger。
func (b *Binder) SetLogger(logger *MLogger) {
	b.logger.Store(logger)
}

func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
