// Package rpc 定义插件向宿主发送命令的通道。
//
// 与 eventbus.Request 不同，Trigger 是单向的：只保证本地发送成功，不等待宿主确认。
package rpc

import (
	"context"

	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Event 表示一个可以触发的远端事件。
type Event interface {
	Trigger(ctx context.Context, args ...any) error
}

// Handler 按事件名返回可触发的远端事件。
type Handler interface {
	Event(name events.Name) Event
}

// EventFunc 把普通函数适配为 Event。
type EventFunc func(ctx context.Context, args ...any) error

func (f EventFunc) Trigger(ctx context.Context, args ...any) error {
	return f(ctx, args...)
}

// Loopback 把 Trigger 直接投递到同进程的事件总线上，用于宿主与插件运行在同一进程的场景。
//
// 宿主处理函数的失败只记录日志，不返回给触发方。
type Loopback struct {
	bus eventbus.EventManager
}

var _ Handler = (*Loopback)(nil)

// NewLoopback 创建一个投递到 bus 的 Handler。
func NewLoopback(bus eventbus.EventManager) *Loopback {
	return &Loopback{bus: bus}
}

// Event 实现 Handler.Event。
func (l *Loopback) Event(name events.Name) Event {
	return EventFunc(func(ctx context.Context, args ...any) error {
		if !name.Valid() {
			return merr.WrapErrEventUnknown(name)
		}
		if err := l.bus.Emit(ctx, name, args...); err != nil {
			log.Ctx(ctx).Warn("host handler failed on loopback trigger", log.FieldEvent(name), zap.Error(err))
		}
		return nil
	})
}
