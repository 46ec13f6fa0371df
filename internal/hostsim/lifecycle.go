package hostsim

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/sessionmanager"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// admission 跟踪一次连接尝试的 deferral 状态。
type admission struct {
	mu       sync.Mutex
	deferred bool
	settled  bool
	rejected bool
	reason   string
	message  string
	done     chan struct{}
}

func newAdmission() *admission {
	return &admission{done: make(chan struct{})}
}

func (a *admission) settle(rejected bool, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return
	}
	a.settled = true
	a.rejected = rejected
	a.reason = reason
	close(a.done)
}

func (a *admission) deferrals() *sessionmanager.Deferrals {
	return sessionmanager.NewDeferrals(
		func() {
			a.mu.Lock()
			a.deferred = true
			a.mu.Unlock()
		},
		func(reason string) { a.settle(reason != "", reason) },
		func(message string) {
			a.mu.Lock()
			a.message = message
			a.mu.Unlock()
		},
		func(reason string) { a.settle(true, reason) },
	)
}

// wait 在事件处理完成后决定是否放行：未 Defer 且未结束视为放行，Defer 后等待 Done/Drop。
func (a *admission) wait(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	pending := a.deferred && !a.settled
	a.mu.Unlock()

	if pending {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-a.done:
		case <-timer.C:
			return merr.WrapErrClientRejected("deferral timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rejected {
		return merr.WrapErrClientRejected(a.reason)
	}
	return nil
}

// Connect 按宿主顺序完成一次连接：
// ClientConnecting → [UserCreating → UserCreated] → SessionCreating → SessionCreated → ClientConnected。
//
// 说明：
//   - 用户事件只在该 SteamID 第一次连接时触发；
//   - ClientConnecting 与 SessionCreated 携带 Deferrals，订阅者 Done(reason) 或 Drop 时以 ErrClientRejected 结束；
//   - 在线人数已达 MaxPlayers 时直接拒绝，不触发任何事件。
func (h *Host) Connect(ctx context.Context, c *model.Client) (*model.Session, error) {
	if c == nil {
		return nil, merr.WrapErrParameterMissing("client", "connect")
	}
	if h.Count() >= int(h.maxPlayers) {
		return nil, merr.WrapErrClientRejected("server is full")
	}
	logger := h.Logger().With(log.FieldHandle(c.Handle), log.FieldSteamID(c.SteamID))

	if err := h.admit(ctx, events.ClientConnecting, c); err != nil {
		logger.Info("client rejected while connecting", zap.Error(err))
		return nil, err
	}

	u, err := h.user(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := h.bus.Emit(ctx, events.SessionCreating, c); err != nil {
		return nil, err
	}
	s := model.NewSession(u, ipOf(c.EndPoint))
	if err := h.admit(ctx, events.SessionCreated, c, s); err != nil {
		logger.Info("client rejected after session created", log.FieldSessionID(s.ID), zap.Error(err))
		return nil, err
	}

	if err := h.Register(c, s); err != nil {
		return nil, err
	}
	s.MarkConnected(model.Now())
	if err := h.bus.Emit(ctx, events.ClientConnected, c, s); err != nil {
		return nil, err
	}
	logger.Info("client connected", log.FieldSessionID(s.ID))
	return s, nil
}

// admit 触发一个携带 Deferrals 的事件并等待放行结果。
func (h *Host) admit(ctx context.Context, name events.Name, args ...any) error {
	a := newAdmission()
	if err := h.bus.Emit(ctx, name, append(args, a.deferrals())...); err != nil {
		return err
	}
	return a.wait(ctx, h.deferTimeout)
}

// Initialize 触发 ClientInitializing 与 ClientInitialized。
func (h *Host) Initialize(ctx context.Context, id uuid.UUID) error {
	e, ok := h.Get(id)
	if !ok {
		return merr.WrapErrSessionNotFound(id)
	}
	if err := h.bus.Emit(ctx, events.ClientInitializing, e.Client); err != nil {
		return err
	}
	return h.bus.Emit(ctx, events.ClientInitialized, e.Client, e.Session)
}

// Reconnect 用一个新会话替换 id 对应的会话，旧会话以 "reconnected" 结束。
func (h *Host) Reconnect(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	ctx = log.WithSession(ctx, id)
	e, ok := h.Get(id)
	if !ok {
		return nil, merr.WrapErrSessionNotFound(id)
	}
	old := e.Session
	s := model.NewSession(old.User, old.IPAddress)
	if old.User == nil {
		s.UserID = old.UserID
	}
	if err := h.bus.Emit(ctx, events.ClientReconnecting, e.Client, old, s); err != nil {
		return nil, err
	}

	if _, err := h.Unregister(id); err != nil {
		return nil, err
	}
	old.MarkDisconnected(model.Now(), ReasonReconnected)
	if err := h.Register(e.Client, s); err != nil {
		return nil, err
	}
	s.MarkConnected(model.Now())

	if err := h.bus.Emit(ctx, events.ClientReconnected, e.Client, old, s); err != nil {
		return nil, err
	}
	h.Logger().Info("client reconnected", log.FieldSessionID(s.ID), zap.Stringer("previous", old.ID))
	return s, nil
}

// Disconnect 触发 ClientDisconnecting，移除会话后触发 ClientDisconnected。
func (h *Host) Disconnect(ctx context.Context, id uuid.UUID) error {
	ctx = log.WithSession(ctx, id)
	e, ok := h.Get(id)
	if !ok {
		return merr.WrapErrSessionNotFound(id)
	}
	if err := h.bus.Emit(ctx, events.ClientDisconnecting, e.Client); err != nil {
		return err
	}
	if _, err := h.Unregister(id); err != nil {
		return err
	}
	e.Session.MarkDisconnected(model.Now(), ReasonDisconnected)
	return h.bus.Emit(ctx, events.ClientDisconnected, e.Client, e.Session)
}

// TimeOut 移除会话并触发 SessionTimedOut。
func (h *Host) TimeOut(ctx context.Context, id uuid.UUID) error {
	ctx = log.WithSession(ctx, id)
	e, err := h.Unregister(id)
	if err != nil {
		return err
	}
	e.Session.MarkDisconnected(model.Now(), ReasonTimedOut)
	return h.bus.Emit(ctx, events.SessionTimedOut, e.Client, e.Session)
}
