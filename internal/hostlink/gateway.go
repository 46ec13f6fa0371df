package hostlink

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/json"
	"github.com/lk2023060901/sessionmanager-go/internal/network/acceptor"
	"github.com/lk2023060901/sessionmanager-go/internal/network/router"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/internal/sessionmanager"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/metrics"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/conc"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

const hostSide = "host"

// Gateway 是宿主一侧的链路端点，挂在宿主的事件总线上。
//
// 说明：
//   - 总线上的每个生命周期通知都会转发给所有已连接的插件，*sessionmanager.Deferrals 参数被替换为句柄引用；
//   - 携带 deferral 的事件会等待每个插件处理完毕（或 AckTimeout）后才返回，
//     插件在处理期间调用的 Defer 因此先于事件返回生效；
//   - 查询与命令帧在 ants 协程池中执行，不阻塞连接的读协程；
//   - 回调帧在读协程中按到达顺序执行。
type Gateway struct {
	log.Binder

	cfg      Config
	bus      eventbus.EventManager
	acceptor *acceptor.BaseAcceptor
	router   router.Router
	pool     *conc.Pool[struct{}]

	refSeq atomic.Uint64
	ackSeq atomic.Uint64

	mu   sync.Mutex
	refs map[uint64]*deferralRef
	acks map[uint64]chan struct{}
}

// deferralRef 是 Gateway 持有的一个 deferral 句柄。
type deferralRef struct {
	d        *sessionmanager.Deferrals
	deferred bool
}

// GatewayOption 用于配置 Gateway。
type GatewayOption func(g *Gateway)

// WithGatewayLogger 设置 Gateway 使用的组件日志。
func WithGatewayLogger(l *log.MLogger) GatewayOption {
	return func(g *Gateway) {
		g.SetLogger(l)
	}
}

// NewGateway 创建 Gateway，并在 bus 上订阅全部生命周期通知。ctx 结束时所有插件连接被关闭。
func NewGateway(ctx context.Context, bus eventbus.EventManager, cfg Config, opts ...GatewayOption) (*Gateway, error) {
	if bus == nil {
		return nil, merr.WrapErrParameterMissing("bus", "hostlink gateway")
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = eventbus.DefaultRequestTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	cdc, err := NewCodec(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:    cfg,
		bus:    bus,
		router: router.New(),
		refs:   make(map[uint64]*deferralRef),
		acks:   make(map[uint64]chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	// 宿主应答者 panic 时只让对应请求失败。
	g.pool = conc.NewPool[struct{}](cfg.Workers, conc.WithConcealPanic(true), conc.WithPoolLogger(g.Logger()))

	acc, err := acceptor.NewBaseAcceptor(ctx, acceptor.Config{Session: cfg.Session, Codec: cdc}, nil, gatewayHandler{g})
	if err != nil {
		g.pool.Release()
		return nil, err
	}
	acc.SetLogger(g.Logger())
	g.acceptor = acc

	router.MustRegister(g.router, wire.KindRequest, g.onRequest)
	router.MustRegister(g.router, wire.KindTrigger, g.onTrigger)
	router.MustRegister(g.router, wire.KindCallback, g.onCallback)
	router.MustRegister(g.router, wire.KindResponse, g.onAck)

	for _, name := range events.Notifications() {
		bus.On(name, g.forwarder(name))
	}
	return g, nil
}

// ServeHTTP 接受插件的 WebSocket 连接。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.acceptor.ServeHTTP(w, r)
}

// Plugins 返回当前已连接的插件数量。
func (g *Gateway) Plugins() int {
	return len(g.acceptor.Sessions())
}

// Close 断开所有插件并释放协程池。
func (g *Gateway) Close() error {
	err := g.acceptor.Close()
	g.pool.Release()
	return err
}

// forwarder 返回把事件 name 转发给所有插件的处理函数。
func (g *Gateway) forwarder(name events.Name) eventbus.Handler {
	withAck := carriesDeferrals(name)
	return func(ctx context.Context, args []any) error {
		plugins := g.acceptor.Sessions()
		if len(plugins) == 0 {
			return nil
		}

		var refs []uint64
		encoded := make([]json.RawMessage, len(args))
		for i, arg := range args {
			if d, ok := arg.(*sessionmanager.Deferrals); ok && d != nil {
				ref := g.putRef(d)
				refs = append(refs, ref)
				arg = wire.DeferralRef{Ref: ref}
			}
			raw, err := json.Marshal(arg)
			if err != nil {
				g.dropRefs(refs, true)
				return merr.WrapErrEventPayloadMismatch(name, i, "json value", arg, err.Error())
			}
			encoded[i] = raw
		}

		var waits []uint64
		for _, sess := range plugins {
			f := &wire.Frame{Kind: wire.KindEvent, Name: name, Args: encoded}
			if withAck {
				f.Seq = g.ackSeq.Inc()
				g.mu.Lock()
				g.acks[f.Seq] = make(chan struct{}, 1)
				g.mu.Unlock()
				waits = append(waits, f.Seq)
			}
			if err := sess.Send(f); err != nil {
				g.Logger().Warn("forward event to plugin failed", log.FieldEvent(name), zap.Uint64("linkSession", sess.ID()), zap.Error(err))
				if withAck {
					g.ackDone(f.Seq)
				}
			}
		}

		if withAck {
			if g.waitAcks(ctx, waits) {
				// 所有插件都已处理完毕，没有调用 Defer 的句柄不会再被使用。
				g.dropRefs(refs, false)
			} else {
				g.Logger().Warn("plugins did not acknowledge event in time", log.FieldEvent(name), zap.Duration("timeout", g.cfg.AckTimeout))
			}
		}
		return nil
	}
}

// waitAcks 等待 seqs 全部确认，超时或 ctx 结束返回 false。
func (g *Gateway) waitAcks(ctx context.Context, seqs []uint64) bool {
	defer func() {
		g.mu.Lock()
		for _, seq := range seqs {
			delete(g.acks, seq)
		}
		g.mu.Unlock()
	}()

	g.mu.Lock()
	chans := lo.FilterMap(seqs, func(seq uint64, _ int) (chan struct{}, bool) {
		ch, ok := g.acks[seq]
		return ch, ok
	})
	g.mu.Unlock()

	timer := time.NewTimer(g.cfg.AckTimeout)
	defer timer.Stop()
	for _, ch := range chans {
		select {
		case <-ch:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (g *Gateway) ackDone(seq uint64) {
	g.mu.Lock()
	ch, ok := g.acks[seq]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (g *Gateway) putRef(d *sessionmanager.Deferrals) uint64 {
	ref := g.refSeq.Inc()
	g.mu.Lock()
	g.refs[ref] = &deferralRef{d: d}
	g.mu.Unlock()
	return ref
}

// dropRefs 移除句柄；all 为 false 时保留已被 Defer 的句柄，等待后续的 Done 或 Drop。
func (g *Gateway) dropRefs(refs []uint64, all bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ref := range refs {
		if r, ok := g.refs[ref]; ok && (all || !r.deferred) {
			delete(g.refs, ref)
		}
	}
}

// onRequest 在协程池中执行查询并回送应答。
func (g *Gateway) onRequest(sess session.Session, f *wire.Frame) error {
	future := g.pool.Submit(func() (struct{}, error) {
		resp := &wire.Frame{Kind: wire.KindResponse, Seq: f.Seq, Name: f.Name}
		res, err := g.bus.Request(sess.Context(), f.Name, wire.RawArgs(f.Args)...)
		if err == nil && res != nil {
			resp.Result, err = json.Marshal(res)
			if err != nil {
				err = merr.WrapErrServiceInternal(err.Error(), "encode request result")
			}
		}
		if err != nil {
			g.Logger().Debug("plugin request failed", log.FieldEvent(f.Name), zap.Error(err))
			resp.SetErr(err)
		}
		return struct{}{}, sess.Send(resp)
	})
	if future.Done() && future.Err() != nil {
		return future.Err()
	}
	return nil
}

// onTrigger 在协程池中把命令作为事件在宿主总线上触发，处理失败只记录日志。
func (g *Gateway) onTrigger(sess session.Session, f *wire.Frame) error {
	future := g.pool.Submit(func() (struct{}, error) {
		if err := g.bus.Emit(sess.Context(), f.Name, wire.RawArgs(f.Args)...); err != nil {
			g.Logger().Warn("host handler failed on plugin trigger", log.FieldEvent(f.Name), zap.Error(err))
		}
		return struct{}{}, nil
	})
	if future.Done() && future.Err() != nil {
		return future.Err()
	}
	return nil
}

// onCallback 在读协程中执行 deferral 回调，Done 与 Drop 之后句柄失效。
func (g *Gateway) onCallback(_ session.Session, f *wire.Frame) error {
	g.mu.Lock()
	r, ok := g.refs[f.Ref]
	if ok {
		switch f.Op {
		case wire.OpDefer:
			r.deferred = true
		case wire.OpDone, wire.OpDrop:
			delete(g.refs, f.Ref)
		}
	}
	g.mu.Unlock()
	if !ok {
		return merr.WrapErrLinkRefNotFound(f.Ref, f.Op)
	}

	var text string
	if len(f.Args) > 0 {
		if err := wire.Raw(f.Args[0]).Decode(&text); err != nil {
			return merr.WrapErrLinkProtocol(err.Error(), "decode callback argument")
		}
	}

	d := r.d
	switch f.Op {
	case wire.OpDefer:
		if d.Defer != nil {
			d.Defer()
		}
	case wire.OpDone:
		if d.Done != nil {
			d.Done(text)
		}
	case wire.OpUpdate:
		if d.Update != nil {
			d.Update(text)
		}
	case wire.OpDrop:
		if d.Drop != nil {
			d.Drop(text)
		}
	default:
		return merr.WrapErrLinkProtocol("unknown callback op " + f.Op)
	}
	return nil
}

func (g *Gateway) onAck(_ session.Session, f *wire.Frame) error {
	if err := f.Err(); err != nil {
		g.Logger().Debug("plugin reported event failure", log.FieldEvent(f.Name), zap.Error(err))
	}
	g.ackDone(f.Seq)
	return nil
}

// gatewayHandler 把接入回调转给 Gateway。
type gatewayHandler struct {
	g *Gateway
}

func (h gatewayHandler) OnConnected(sess session.Session) {
	metrics.LinkConnected.WithLabelValues(hostSide).Inc()
	h.g.Logger().Info("plugin connected", zap.Uint64("linkSession", sess.ID()), log.FieldRemote(sess.RemoteAddr().String()))
}

func (h gatewayHandler) OnMessage(sess session.Session, f *wire.Frame) {
	if err := h.g.router.Handle(sess, f); err != nil {
		h.g.Logger().RatedWarn(1, "handle plugin frame failed", zap.Stringer("kind", f.Kind), zap.Error(err))
	}
}

func (h gatewayHandler) OnClosed(sess session.Session, err error) {
	metrics.LinkConnected.WithLabelValues(hostSide).Dec()
	h.g.Logger().Info("plugin disconnected", zap.Uint64("linkSession", sess.ID()), zap.Error(err))
}
