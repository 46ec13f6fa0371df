package hostlink

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/json"
	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/network/connector"
	"github.com/lk2023060901/sessionmanager-go/internal/network/router"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/internal/rpc"
	"github.com/lk2023060901/sessionmanager-go/internal/sessionmanager"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/metrics"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/conc"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/logutil"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

const pluginSide = "plugin"

// Client 是插件一侧的链路端点。
//
// 说明：
//   - 收到的事件帧按事件名解码为 *model.Client / *model.User / *model.Session / *sessionmanager.Deferrals，
//     再按到达顺序在内部 LocalBus 上触发；事件在每条连接独立的串行队列中处理，
//     处理函数内发起的 Request 不会阻塞读协程；
//   - Request 把查询发给宿主并等待同 Seq 的应答；
//   - Event(name).Trigger 发送单向命令帧；
//   - 连接断开后自动重拨，直到 Close。
type Client struct {
	log.Binder

	cfg       Config
	bus       *eventbus.LocalBus
	connector *connector.Connector
	router    router.Router

	mu      sync.Mutex
	sess    session.Session
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	pending map[uint64]chan *wire.Frame
	queues  map[uint64]*serialQueue

	seq atomic.Uint64
}

var (
	_ eventbus.EventManager = (*Client)(nil)
	_ rpc.Handler           = (*Client)(nil)
)

// ClientOption 用于配置 Client。
type ClientOption func(c *Client)

// WithClientLogger 设置 Client 使用的组件日志。
func WithClientLogger(l *log.MLogger) ClientOption {
	return func(c *Client) {
		c.SetLogger(l)
	}
}

// NewClient 创建一个尚未连接的 Client。
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.URL == "" {
		return nil, merr.WrapErrParameterMissing("url", "hostlink client")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = eventbus.DefaultRequestTimeout
	}
	cdc, err := NewCodec(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := connector.New(connector.Config{
		Session: cfg.Session,
		Codec:   cdc,
		Header:  logutil.HandshakeHeader(time.Now()),
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		connector: conn,
		router:    router.New(),
		pending:   make(map[uint64]chan *wire.Frame),
		queues:    make(map[uint64]*serialQueue),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bus = eventbus.NewLocalBus(eventbus.WithLogger(c.Logger()))
	router.MustRegister(c.router, wire.KindEvent, c.onEvent)
	router.MustRegister(c.router, wire.KindResponse, c.onResponse)
	return c, nil
}

// Connect 连接宿主，失败时按指数退避重试，直到成功、DialMaxElapsed 耗尽或 ctx 结束。
// 连接建立后 ctx 的取消不会断开链路，断开需调用 Close。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return merr.WrapErrLinkClosed("client closed")
	}
	if c.ctx == nil {
		c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	c.mu.Unlock()
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	ctx, span := log.NewIntentContext(ctx, "hostlink", "dial")
	defer span.End()
	sess, err := c.connector.DialWithRetry(ctx, c.cfg.URL, clientHandler{c}, connector.NewBackOff(c.cfg.DialMaxElapsed))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = sess.Close()
		return merr.WrapErrLinkClosed("client closed")
	}
	if sess.Context().Err() != nil {
		return merr.WrapErrLinkClosed("closed during handshake")
	}
	c.sess = sess
	metrics.LinkConnected.WithLabelValues(pluginSide).Inc()
	c.Logger().Info("host link connected", zap.String("url", c.cfg.URL), zap.Stringer("traceID", span.SpanContext().TraceID()), log.FieldRemote(sess.RemoteAddr().String()))
	return nil
}

// Connected 判断当前是否持有可用的连接。
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Close 断开链路并停止重拨，在途请求以 ErrLinkClosed 结束。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.sess
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if sess != nil {
		return sess.Close()
	}
	return nil
}

func (c *Client) current() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// On 实现 eventbus.EventManager，在本地总线上注册处理函数。
func (c *Client) On(name events.Name, h eventbus.Handler) {
	c.bus.On(name, h)
}

// Emit 实现 eventbus.EventManager，只在本地触发，不会发往宿主。
func (c *Client) Emit(ctx context.Context, name events.Name, args ...any) error {
	return c.bus.Emit(ctx, name, args...)
}

// Answer 实现 eventbus.EventManager。查询只能由宿主应答，插件侧不支持。
func (c *Client) Answer(name events.Name, _ eventbus.Responder) error {
	return merr.WrapErrOperationNotSupported("answer", name.String())
}

// Request 实现 eventbus.EventManager，经链路向宿主发起查询。
//
// 说明：
//   - 未连接时返回 ErrLinkNotConnected；
//   - 超过 RequestTimeout 或 ctx 到期返回 ErrRequestTimeout，ctx 被取消返回 ctx.Err()；
//   - 宿主侧的错误按错误码还原，例如 ErrNoResponder；
//   - 结果以 wire.Raw 返回，由 eventbus.Request 解码到目标类型。
func (c *Client) Request(ctx context.Context, name events.Name, args ...any) (any, error) {
	if !name.Valid() {
		return nil, merr.WrapErrEventUnknown(name)
	}
	sess := c.current()
	if sess == nil {
		return nil, merr.WrapErrLinkNotConnected(c.cfg.URL)
	}
	encoded, err := wire.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}

	seq := c.seq.Inc()
	ch := make(chan *wire.Frame, 1)
	c.mu.Lock()
	c.pending[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err := sess.Send(&wire.Frame{Kind: wire.KindRequest, Seq: seq, Name: name, Args: encoded}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if err := resp.Err(); err != nil {
			return nil, err
		}
		if len(resp.Result) == 0 {
			return nil, nil
		}
		return wire.Raw(resp.Result), nil
	case <-timer.C:
		return nil, merr.WrapErrRequestTimeout(name, c.cfg.RequestTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, merr.WrapErrRequestTimeout(name, c.cfg.RequestTimeout)
	}
}

// Event 实现 rpc.Handler，Trigger 发送一帧单向命令。
func (c *Client) Event(name events.Name) rpc.Event {
	return rpc.EventFunc(func(ctx context.Context, args ...any) error {
		if !name.Valid() {
			return merr.WrapErrEventUnknown(name)
		}
		sess := c.current()
		if sess == nil {
			return merr.WrapErrLinkNotConnected(c.cfg.URL)
		}
		encoded, err := wire.EncodeArgs(args...)
		if err != nil {
			return err
		}
		return sess.Send(&wire.Frame{Kind: wire.KindTrigger, Name: name, Args: encoded})
	})
}

// onEvent 解码事件参数并在本地总线上触发；带 Seq 的事件在本地处理完成后回送确认。
func (c *Client) onEvent(sess session.Session, f *wire.Frame) error {
	ctx := log.WithEvent(sess.Context(), f.Name)
	args, err := c.decodeArgs(sess, f)
	if err == nil {
		err = c.bus.Emit(ctx, f.Name, args...)
	}
	if err != nil {
		c.Logger().Warn("host event handling failed", log.FieldEvent(f.Name), zap.Error(err))
	}
	if f.Seq == 0 {
		return nil
	}
	ack := &wire.Frame{Kind: wire.KindResponse, Seq: f.Seq, Name: f.Name}
	ack.SetErr(err)
	return sess.Send(ack)
}

func (c *Client) onResponse(_ session.Session, f *wire.Frame) error {
	c.mu.Lock()
	ch, ok := c.pending[f.Seq]
	c.mu.Unlock()
	if !ok {
		c.Logger().Debug("drop response without pending request", zap.Uint64("seq", f.Seq), log.FieldEvent(f.Name))
		return nil
	}
	select {
	case ch <- f:
	default:
	}
	return nil
}

// decodeArgs 按 eventArgs 中登记的布局解码参数；未登记的事件以 wire.Raw 形式交给处理函数。
func (c *Client) decodeArgs(sess session.Session, f *wire.Frame) ([]any, error) {
	kinds, ok := eventArgs[f.Name]
	if !ok {
		return wire.RawArgs(f.Args), nil
	}
	if len(f.Args) != len(kinds) {
		return nil, merr.WrapErrEventArity(f.Name, len(kinds), len(f.Args))
	}

	args := make([]any, len(kinds))
	for i, kind := range kinds {
		raw := f.Args[i]
		var (
			v   any
			err error
		)
		switch kind {
		case argClient:
			v, err = decodePtr[model.Client](raw)
		case argUser:
			v, err = decodePtr[model.User](raw)
		case argSession:
			v, err = decodePtr[model.Session](raw)
		case argDeferrals:
			var ref *wire.DeferralRef
			ref, err = decodePtr[wire.DeferralRef](raw)
			if err == nil {
				v = c.deferrals(sess, ref)
			}
		}
		if err != nil {
			return nil, merr.WrapErrEventPayloadMismatch(f.Name, i, kindName(kind), string(raw), err.Error())
		}
		args[i] = v
	}
	return args, nil
}

// deferrals 把句柄引用还原为 Deferrals，其每个函数都向宿主发送一帧回调。
func (c *Client) deferrals(sess session.Session, ref *wire.DeferralRef) *sessionmanager.Deferrals {
	if ref == nil || ref.Ref == 0 {
		return nil
	}
	send := func(op string, args ...any) {
		f := &wire.Frame{Kind: wire.KindCallback, Ref: ref.Ref, Op: op}
		encoded, err := wire.EncodeArgs(args...)
		if err == nil {
			f.Args = encoded
			err = sess.Send(f)
		}
		if err != nil {
			c.Logger().Warn("send deferral callback failed", zap.Uint64("ref", ref.Ref), zap.String("op", op), zap.Error(err))
		}
	}
	return sessionmanager.NewDeferrals(
		func() { send(wire.OpDefer) },
		func(reason string) { send(wire.OpDone, reason) },
		func(message string) { send(wire.OpUpdate, message) },
		func(reason string) { send(wire.OpDrop, reason) },
	)
}

// onClosed 清理断开的连接，在途请求以 ErrLinkClosed 结束，未 Close 时在后台重拨。
func (c *Client) onClosed(sess session.Session, cause error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	metrics.LinkConnected.WithLabelValues(pluginSide).Dec()
	for seq, ch := range c.pending {
		f := &wire.Frame{Kind: wire.KindResponse, Seq: seq}
		f.SetErr(merr.WrapErrLinkClosed("request in flight"))
		select {
		case ch <- f:
		default:
		}
	}
	closed, ctx := c.closed, c.ctx
	c.mu.Unlock()

	if closed {
		c.Logger().Info("host link closed")
		return
	}
	c.Logger().Warn("host link lost, reconnecting", zap.Error(cause))
	conc.Go(func() (struct{}, error) {
		if err := c.dial(ctx); err != nil {
			c.Logger().Warn("host link reconnect gave up", zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// queue 返回 sess 的事件队列，首次调用时创建。
func (c *Client) queue(sess session.Session) *serialQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[sess.ID()]
	if !ok {
		q = newSerialQueue()
		c.queues[sess.ID()] = q
	}
	return q
}

func (c *Client) dropQueue(sess session.Session) {
	c.mu.Lock()
	q, ok := c.queues[sess.ID()]
	delete(c.queues, sess.ID())
	c.mu.Unlock()
	if ok {
		q.close()
	}
}

// clientHandler 把连接回调转给 Client，避免在 Client 上暴露回调方法。
type clientHandler struct {
	c *Client
}

// OnMessage 在读协程中调用。事件帧交给串行队列，其余帧（应答）立即处理。
func (h clientHandler) OnMessage(sess session.Session, f *wire.Frame) {
	if f.Kind == wire.KindEvent {
		h.c.queue(sess).push(func() { h.handle(sess, f) })
		return
	}
	h.handle(sess, f)
}

func (h clientHandler) handle(sess session.Session, f *wire.Frame) {
	if err := h.c.router.Handle(sess, f); err != nil {
		h.c.Logger().RatedWarn(1, "handle host frame failed", zap.Stringer("kind", f.Kind), zap.Error(err))
	}
}

func (h clientHandler) OnClosed(sess session.Session, err error) {
	h.c.dropQueue(sess)
	h.c.onClosed(sess, err)
}

func decodePtr[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

func kindName(k argKind) string {
	switch k {
	case argClient:
		return "*model.Client"
	case argUser:
		return "*model.User"
	case argSession:
		return "*model.Session"
	case argDeferrals:
		return "*sessionmanager.Deferrals"
	}
	return "unknown"
}
