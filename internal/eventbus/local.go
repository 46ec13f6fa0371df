package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/conc"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// DefaultRequestTimeout 是 Request 等待应答的默认上限。
const DefaultRequestTimeout = 5 * time.Second

// LocalBus 是 EventManager 的进程内实现。
//
// 特性：
//   - Emit 在触发前复制处理函数列表，处理函数内可以安全地继续注册；
//   - 处理函数同步、按注册顺序执行，一个处理函数失败不影响后续处理函数；
//   - 处理函数 panic 被转换为 ErrEventHandlerFailed；
//   - Request 在独立协程中执行应答者，超过 requestTimeout 返回 ErrRequestTimeout。
type LocalBus struct {
	log.Binder

	mu         sync.RWMutex
	handlers   map[events.Name][]Handler
	responders map[events.Name]Responder

	requestTimeout time.Duration
}

var _ EventManager = (*LocalBus)(nil)

// Option 用于配置 LocalBus。
type Option func(b *LocalBus)

// WithRequestTimeout 设置 Request 的超时时间；d <= 0 时保持默认值。
func WithRequestTimeout(d time.Duration) Option {
	return func(b *LocalBus) {
		if d > 0 {
			b.requestTimeout = d
		}
	}
}

// WithLogger 设置总线使用的组件日志。
func WithLogger(l *log.MLogger) Option {
	return func(b *LocalBus) {
		b.SetLogger(l)
	}
}

// NewLocalBus 创建一个空的进程内总线。
func NewLocalBus(opts ...Option) *LocalBus {
	b := &LocalBus{
		handlers:       make(map[events.Name][]Handler),
		responders:     make(map[events.Name]Responder),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On 实现 EventManager.On。
func (b *LocalBus) On(name events.Name, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Handlers 返回 name 上已注册的处理函数个数。
func (b *LocalBus) Handlers(name events.Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Emit 实现 EventManager.Emit。
//
// 返回所有处理函数错误的合并结果；没有处理函数时返回 nil。
func (b *LocalBus) Emit(ctx context.Context, name events.Name, args ...any) error {
	if !name.Valid() {
		return merr.WrapErrEventUnknown(name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.RLock()
	snapshot := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range snapshot {
		if err := b.invoke(ctx, name, h, args); err != nil {
			b.Logger().Debug("event handler failed", log.FieldEvent(name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return merr.Combine(errs...)
}

func (b *LocalBus) invoke(ctx context.Context, name events.Name, h Handler, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = merr.WrapErrEventHandlerFailed(name, errors.Newf("panic: %v", r))
		}
	}()
	return h(ctx, args)
}

// Answer 实现 EventManager.Answer。每个事件只允许一个应答者。
func (b *LocalBus) Answer(name events.Name, r Responder) error {
	if !name.Valid() {
		return merr.WrapErrEventUnknown(name)
	}
	if r == nil {
		return merr.WrapErrParameterMissing("responder")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.responders[name]; ok {
		return merr.WrapErrResponderExists(name)
	}
	b.responders[name] = r
	return nil
}

// Request 实现 EventManager.Request。
//
// 说明：
//   - 没有应答者时立即返回 ErrNoResponder；
//   - 等待上限为 requestTimeout 与 ctx 截止时间中较早者，超时返回 ErrRequestTimeout；
//   - ctx 被取消时返回 ctx.Err()。
func (b *LocalBus) Request(ctx context.Context, name events.Name, args ...any) (any, error) {
	if !name.Valid() {
		return nil, merr.WrapErrEventUnknown(name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.RLock()
	r, ok := b.responders[name]
	b.mu.RUnlock()
	if !ok {
		return nil, merr.WrapErrNoResponder(name)
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	future := conc.Go(func() (res any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = merr.WrapErrEventHandlerFailed(name, errors.Newf("panic: %v", p))
			}
		}()
		return r(reqCtx, args)
	})

	select {
	case <-future.Inner():
		res, err := future.Await()
		if err == nil || reqCtx.Err() == nil {
			return res, err
		}
	case <-reqCtx.Done():
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}
	return nil, merr.WrapErrRequestTimeout(name, b.requestTimeout)
}
