package acceptor

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	network "github.com/lk2023060901/sessionmanager-go/internal/network"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/logutil"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// BaseAcceptor 是 Acceptor 接口的 WebSocket 实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 每个连接在其 HTTP 处理协程中串行读取并分发帧，保证同一 Session 上 Handler 串行执行。
type BaseAcceptor struct {
	log.Binder

	cfg      Config
	upgrader *websocket.Upgrader
	sessions session.SessionManager
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc
	nextID atomic.Uint64
}

var _ Acceptor = (*BaseAcceptor)(nil)

// NewBaseAcceptor 创建一个 WebSocket 接入器。
//
// 参数：
//   - ctx：接入器的生命周期上下文，取消后所有会话随之关闭；
//   - sm ：会话索引，可为 nil，此时使用内部的 BaseSessionManager；
//   - h  ：会话回调，不能为 nil。
func NewBaseAcceptor(ctx context.Context, cfg Config, sm session.SessionManager, h Handler) (*BaseAcceptor, error) {
	if cfg.Codec == nil {
		return nil, merr.WrapErrParameterMissing("codec", "acceptor")
	}
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler", "acceptor")
	}
	if sm == nil {
		sm = session.NewBaseSessionManager()
	}
	upgrader := cfg.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &BaseAcceptor{
		cfg:      cfg,
		upgrader: upgrader,
		sessions: sm,
		handler:  h,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ServeHTTP 完成升级并在当前协程中驱动该连接直至断开。
func (a *BaseAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.ctx.Err() != nil {
		http.Error(w, "acceptor closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应。
		a.Logger().Warn("websocket upgrade failed", zap.Stringer("stage", network.StageHandshake),
			log.FieldRemote(r.RemoteAddr), zap.Error(err))
		return
	}

	parent := logutil.WithHandshakeTrace(a.ctx, r.Header)
	sess := session.NewBaseSession(parent, a.nextID.Inc(), conn, a.cfg.Codec, a.cfg.Session)
	if err := a.sessions.Register(sess); err != nil {
		a.Logger().Warn("register link session failed", zap.Error(err))
		_ = sess.Close()
		return
	}
	defer func() {
		_ = a.sessions.Unregister(sess.ID())
	}()

	a.handler.OnConnected(sess)
	cause := sess.ReadLoop(func(f *wire.Frame) {
		a.handler.OnMessage(sess, f)
	})
	a.handler.OnClosed(sess, cause)
}

// Close 实现 Acceptor.Close。
func (a *BaseAcceptor) Close() error {
	a.cancel()
	a.sessions.Range(func(sess session.Session) bool {
		_ = sess.Close()
		return true
	})
	return nil
}

// Sessions 实现 Acceptor.Sessions。
func (a *BaseAcceptor) Sessions() []session.Session {
	return a.sessions.Snapshot()
}
