// Package sessionmanager 把宿主的会话生命周期事件转发为本地通知，并提供查询与断开连接命令。
//
// Manager 不维护任何会话状态：查询每次都经事件总线询问宿主，命令经 RPC 通道发给宿主。
package sessionmanager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/rpc"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/metrics"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// DefaultDisconnectMessage 是未指定消息时断开连接命令携带的文本。
const DefaultDisconnectMessage = "Disconnected by server"

// Manager 是会话管理器的对外门面。
//
// 每个导出的 Notifier 对应一个宿主事件，宿主每触发一次事件，对应 Notifier 最多触发一次。
type Manager struct {
	log.Binder

	events eventbus.EventManager
	rpc    rpc.Handler

	ClientConnecting    Notifier[ClientDeferralsEventArgs]
	UserCreating        Notifier[ClientEventArgs]
	UserCreated         Notifier[ClientUserEventArgs]
	SessionCreating     Notifier[ClientEventArgs]
	SessionCreated      Notifier[ClientSessionDeferralsEventArgs]
	ClientConnected     Notifier[ClientSessionEventArgs]
	ClientReconnecting  Notifier[ClientReconnectEventArgs]
	ClientReconnected   Notifier[ClientReconnectEventArgs]
	ClientDisconnecting Notifier[ClientEventArgs]
	ClientDisconnected  Notifier[ClientSessionEventArgs]
	ClientInitializing  Notifier[ClientEventArgs]
	ClientInitialized   Notifier[ClientSessionEventArgs]
	SessionTimedOut     Notifier[ClientSessionEventArgs]
}

// Option 用于配置 Manager。
type Option func(m *Manager)

// WithLogger 设置 Manager 使用的组件日志。
func WithLogger(l *log.MLogger) Option {
	return func(m *Manager) {
		m.SetLogger(l)
	}
}

// New 创建 Manager，并在 events 上订阅全部 13 个生命周期事件。
func New(events eventbus.EventManager, rpc rpc.Handler, opts ...Option) *Manager {
	m := &Manager{
		events: events,
		rpc:    rpc,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.subscribe()
	return m
}

func (m *Manager) subscribe() {
	eventbus.On2(m.events, events.ClientConnecting, func(_ context.Context, c *model.Client, d *Deferrals) error {
		relay(m, events.ClientConnecting, &m.ClientConnecting, ClientDeferralsEventArgs{Client: c, Deferrals: d})
		return nil
	})
	eventbus.On1(m.events, events.UserCreating, func(_ context.Context, c *model.Client) error {
		relay(m, events.UserCreating, &m.UserCreating, ClientEventArgs{Client: c})
		return nil
	})
	eventbus.On2(m.events, events.UserCreated, func(_ context.Context, c *model.Client, u *model.User) error {
		relay(m, events.UserCreated, &m.UserCreated, ClientUserEventArgs{Client: c, User: u})
		return nil
	})
	eventbus.On1(m.events, events.SessionCreating, func(_ context.Context, c *model.Client) error {
		relay(m, events.SessionCreating, &m.SessionCreating, ClientEventArgs{Client: c})
		return nil
	})
	eventbus.On3(m.events, events.SessionCreated, func(_ context.Context, c *model.Client, s *model.Session, d *Deferrals) error {
		relay(m, events.SessionCreated, &m.SessionCreated, ClientSessionDeferralsEventArgs{Client: c, Session: s, Deferrals: d})
		return nil
	})
	m.onClientSession(events.ClientConnected, &m.ClientConnected)

	m.onReconnect(events.ClientReconnecting, &m.ClientReconnecting)
	m.onReconnect(events.ClientReconnected, &m.ClientReconnected)

	m.onClient(events.ClientDisconnecting, &m.ClientDisconnecting)
	m.onClientSession(events.ClientDisconnected, &m.ClientDisconnected)

	m.onClient(events.ClientInitializing, &m.ClientInitializing)
	m.onClientSession(events.ClientInitialized, &m.ClientInitialized)

	m.onClientSession(events.SessionTimedOut, &m.SessionTimedOut)
}

func (m *Manager) onClient(name events.Name, n *Notifier[ClientEventArgs]) {
	eventbus.On1(m.events, name, func(_ context.Context, c *model.Client) error {
		relay(m, name, n, ClientEventArgs{Client: c})
		return nil
	})
}

func (m *Manager) onClientSession(name events.Name, n *Notifier[ClientSessionEventArgs]) {
	eventbus.On2(m.events, name, func(_ context.Context, c *model.Client, s *model.Session) error {
		relay(m, name, n, ClientSessionEventArgs{Client: c, Session: s})
		return nil
	})
}

func (m *Manager) onReconnect(name events.Name, n *Notifier[ClientReconnectEventArgs]) {
	eventbus.On3(m.events, name, func(_ context.Context, c *model.Client, old, cur *model.Session) error {
		relay(m, name, n, ClientReconnectEventArgs{Client: c, OldSession: old, NewSession: cur})
		return nil
	})
}

func relay[T any](m *Manager, name events.Name, n *Notifier[T], args T) {
	metrics.RelayedEventsTotal.WithLabelValues(name.String()).Inc()
	m.Logger().Debug("relay host event", log.FieldEvent(name), zap.Int("subscribers", n.Len()))
	n.raise(m, args)
}

// MaxPlayers 询问宿主允许的最大玩家数。
func (m *Manager) MaxPlayers(ctx context.Context) (uint16, error) {
	return request[uint16](ctx, m, events.GetMaxPlayers)
}

// CurrentSessionsCount 询问宿主当前的会话数量。
func (m *Manager) CurrentSessionsCount(ctx context.Context) (int, error) {
	return request[int](ctx, m, events.GetCurrentSessionsCount)
}

// CurrentSessions 询问宿主当前全部活跃会话，顺序由宿主决定。
func (m *Manager) CurrentSessions(ctx context.Context) ([]*model.Session, error) {
	return request[[]*model.Session](ctx, m, events.GetCurrentSessions)
}

func request[T any](ctx context.Context, m *Manager, name events.Name) (T, error) {
	start := time.Now()
	res, err := eventbus.Request[T](ctx, m.events, name)
	elapsed := time.Since(start)

	status := metrics.StatusOf(err)
	metrics.HostRequestsTotal.WithLabelValues(name.String(), status).Inc()
	metrics.HostRequestLatency.WithLabelValues(name.String()).Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		m.Logger().Warn("host request failed", log.FieldEvent(name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return res, err
	}
	m.Logger().Debug("host request done", log.FieldEvent(name), zap.Duration("elapsed", elapsed))
	return res, nil
}

type disconnectOptions struct {
	message string
}

// DisconnectOption 用于调整断开连接命令。
type DisconnectOption func(o *disconnectOptions)

// WithMessage 指定断开连接时展示给玩家的消息。
func WithMessage(message string) DisconnectOption {
	return func(o *disconnectOptions) {
		o.message = message
	}
}

// Disconnect 请求宿主断开 session 对应的连接。
func (m *Manager) Disconnect(ctx context.Context, session *model.Session, opts ...DisconnectOption) error {
	if session == nil {
		return merr.WrapErrParameterMissing("session", "disconnect")
	}
	return m.DisconnectID(ctx, session.ID, opts...)
}

// DisconnectID 请求宿主断开会话 id 对应的连接。
//
// 说明：
//   - 命令为单向发送，不等待宿主确认；
//   - 返回值只反映本地发送是否成功。
func (m *Manager) DisconnectID(ctx context.Context, id uuid.UUID, opts ...DisconnectOption) error {
	o := &disconnectOptions{message: DefaultDisconnectMessage}
	for _, opt := range opts {
		opt(o)
	}

	metrics.DisconnectCommandsTotal.Inc()
	err := m.rpc.Event(events.DisconnectPlayer).Trigger(ctx, id, o.message)
	if err != nil {
		m.Logger().Warn("send disconnect command failed", log.FieldSessionID(id), zap.Error(err))
		return err
	}
	m.Logger().Debug("disconnect command sent", log.FieldSessionID(id), zap.String("message", o.message))
	return nil
}
