package acceptor

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lk2023060901/sessionmanager-go/internal/network/codec"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
)

// Config 描述接入层的配置。
type Config struct {
	// Session 为每个接入会话的收发参数。
	Session session.Config

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader。
	Upgrader *websocket.Upgrader

	// Codec 为当前接入层所有连接共用的编解码器。
	Codec codec.Codec
}

// Handler 由使用者实现，用于在会话的各个阶段插入自定义逻辑。
//
// 说明：
//   - 同一会话上的 OnMessage 串行调用，调用方应避免在其中长时间阻塞；
//   - OnClosed 在会话生命周期结束时恰好调用一次，err 为 nil 表示正常关闭。
type Handler interface {
	OnConnected(sess session.Session)
	OnMessage(sess session.Session, f *wire.Frame)
	OnClosed(sess session.Session, err error)
}

// Acceptor 抽象了服务器侧的 WebSocket 接入层。
//
// 职责：
//   - 作为 http.Handler 处理 WebSocket 升级；
//   - 为每个连接创建 Session，并调用 Handler 的各阶段回调；
//   - 维护当前活跃会话列表。
type Acceptor interface {
	http.Handler

	// Close 关闭所有会话，之后的升级请求返回 503。
	Close() error

	// Sessions 返回当前活跃会话的快照。
	Sessions() []session.Session
}
