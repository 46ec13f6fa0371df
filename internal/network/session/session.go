package session

import (
	"context"
	"net"

	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
)

// Session 抽象了宿主链路上的一条连接。
//
// 约定：
//   - 每个 Session 对应一条 WebSocket 连接；
//   - Session ID 使用 64 位无符号整型，在所属接入器内唯一；
//   - 框架层只关心帧的收发，不关心帧的业务含义。
type Session interface {
	// ID 返回该会话在所属接入器内的唯一标识。
	ID() uint64

	// Context 返回与该会话关联的上下文，会话关闭时 Done。
	Context() context.Context

	// RemoteAddr 返回对端地址，主要用于日志。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Send 把一帧投递到发送队列。
	//
	// 说明：
	//   - 同一会话上的帧按 Send 调用顺序写出；
	//   - 会话已关闭时返回 ErrLinkClosed；
	//   - 返回 nil 只表示已入队，不代表对端已收到。
	Send(f *wire.Frame) error

	// Close 关闭该会话，多次调用是幂等的。
	Close() error
}
