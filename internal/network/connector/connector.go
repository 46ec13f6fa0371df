package connector

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/sessionmanager-go/internal/network"
	"github.com/lk2023060901/sessionmanager-go/internal/network/codec"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/conc"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	// Session 为建立后会话的收发参数。
	Session session.Config

	// Codec 为当前连接使用的编解码器。
	Codec codec.Codec

	// Header 为握手请求附带的 HTTP 头，可为 nil。
	Header http.Header

	// HandshakeTimeout 为单次握手的超时时间，为 0 时使用 gorilla 默认值。
	HandshakeTimeout time.Duration
}

// Handler 描述客户端会话在各阶段的回调能力。
//
// OnMessage 在读协程中按到达顺序串行调用；OnClosed 在连接结束时恰好调用一次。
type Handler interface {
	OnMessage(sess session.Session, f *wire.Frame)
	OnClosed(sess session.Session, err error)
}

// Connector 是基于 gorilla/websocket 的拨号器。
type Connector struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New 创建一个 Connector。
func New(cfg Config) (*Connector, error) {
	if cfg.Codec == nil {
		return nil, merr.WrapErrParameterMissing("codec", "connector")
	}
	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}
	return &Connector{cfg: cfg, dialer: &dialer}, nil
}

// Dial 建立一条连接并启动读协程。
//
// 说明：
//   - ctx 只约束握手过程，会话的生命周期与 ctx 的取消无关，但继承其中的日志字段；
//   - 会话断开后 h.OnClosed 被调用，之后不会再有 OnMessage。
func (c *Connector) Dial(ctx context.Context, urlStr string, h Handler) (session.Session, error) {
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler", "connector")
	}
	conn, resp, err := c.dialer.DialContext(ctx, urlStr, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, merr.WrapErrLinkNotConnected(urlStr, err.Error())
	}

	sess := session.NewBaseSession(context.WithoutCancel(ctx), 1, conn, c.cfg.Codec, c.cfg.Session)
	conc.Go(func() (struct{}, error) {
		cause := sess.ReadLoop(func(f *wire.Frame) {
			h.OnMessage(sess, f)
		})
		h.OnClosed(sess, cause)
		return struct{}{}, nil
	})
	return sess, nil
}

// DialWithRetry 按 b 给出的退避策略重复 Dial，直到成功、策略耗尽或 ctx 结束。
// URL 不合法属于不可重试错误，立即返回。
func (c *Connector) DialWithRetry(ctx context.Context, urlStr string, h Handler, b backoff.BackOff) (session.Session, error) {
	if _, err := url.Parse(urlStr); err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("link url %q: %s", urlStr, err.Error())
	}
	logger := log.Ctx(ctx)
	op := func() (session.Session, error) {
		sess, err := c.Dial(ctx, urlStr, h)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return sess, err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("dial host link failed, wait for retry...", zap.Stringer("stage", network.StageHandshake),
			zap.String("url", urlStr), zap.Duration("nextBackoffInterval", next), zap.Error(err))
	}
	sess, err := backoff.RetryNotifyWithData(op, backoff.WithContext(b, ctx), notify)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", urlStr)
	}
	return sess, nil
}

// NewBackOff 返回拨号使用的默认指数退避策略，maxElapsed 为 0 表示不限总时长。
func NewBackOff(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed
	b.Reset()
	return b
}
