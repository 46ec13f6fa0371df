// Package eventbus 定义插件框架的事件总线契约，以及一个进程内实现。
package eventbus

import (
	"context"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
)

// Handler 处理一次事件触发，args 为按位置传入的参数。
type Handler func(ctx context.Context, args []any) error

// Responder 应答一次查询请求。
type Responder func(ctx context.Context, args []any) (any, error)

// EventManager 是宿主事件总线的抽象。
//
// 说明：
//   - On 为事件注册处理函数，同一事件可以注册多个，按注册顺序调用；
//   - Emit 同步触发事件，没有处理函数时视为成功；
//   - Answer 为查询事件注册唯一的应答者；
//   - Request 发起一次查询并阻塞等待结果，不做缓存，每次调用恰好发出一次请求。
type EventManager interface {
	On(name events.Name, h Handler)
	Emit(ctx context.Context, name events.Name, args ...any) error
	Answer(name events.Name, r Responder) error
	Request(ctx context.Context, name events.Name, args ...any) (any, error)
}

// Decoder 表示一个尚未解码的远端值（例如链路上收到的 JSON 片段）。
//
// 通过 Request/Arg 取值时，若值本身不是目标类型但实现了 Decoder，会解码到目标类型。
type Decoder interface {
	Decode(v any) error
}
