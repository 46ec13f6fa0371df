// Package hostsim 提供一个进程内的最小宿主实现，用于测试和 simulate 模式。
//
// Host 持有一条 LocalBus：它应答三个查询事件、处理 DisconnectPlayer 命令，
// 并提供按宿主真实顺序触发生命周期事件的辅助方法。
package hostsim

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/typeutil"
)

const (
	DefaultMaxPlayers    uint16 = 32
	DefaultDeferTimeout         = 30 * time.Second
	ReasonDisconnected          = "disconnected"
	ReasonTimedOut              = "timed out"
	ReasonReconnected           = "reconnected"
)

// Entry 是注册表中的一条在线记录。
type Entry struct {
	Client  *model.Client
	Session *model.Session
}

// Kick 记录一次收到的 DisconnectPlayer 命令。
type Kick struct {
	SessionID uuid.UUID
	Message   string
}

// Host 是一个进程内宿主。
type Host struct {
	log.Binder

	bus          *eventbus.LocalBus
	maxPlayers   uint16
	deferTimeout time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]Entry
	users    map[int64]*model.User
	kicks    []Kick

	// seen 记录已经创建过用户的 SteamID，UserCreating/UserCreated 每个 SteamID 只触发一次。
	// 创建过程由 userMu 串行化，seen 在用户写入 users 之后才插入。
	seen   *typeutil.ConcurrentSet[int64]
	userMu sync.Mutex
}

// Option 用于配置 Host。
type Option func(h *Host)

func WithMaxPlayers(n uint16) Option {
	return func(h *Host) {
		h.maxPlayers = n
	}
}

// WithDeferTimeout 设置一次被推迟的连接最长等待 Done/Drop 的时间。
func WithDeferTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.deferTimeout = d
	}
}

// WithBus 指定宿主使用的事件总线，默认新建一条 LocalBus。
func WithBus(bus *eventbus.LocalBus) Option {
	return func(h *Host) {
		h.bus = bus
	}
}

func WithLogger(l *log.MLogger) Option {
	return func(h *Host) {
		h.SetLogger(l)
	}
}

// New 创建 Host，并在总线上注册查询应答者与 DisconnectPlayer 处理函数。
func New(opts ...Option) (*Host, error) {
	h := &Host{
		maxPlayers:   DefaultMaxPlayers,
		deferTimeout: DefaultDeferTimeout,
		sessions:     make(map[uuid.UUID]Entry),
		users:        make(map[int64]*model.User),
		seen:         typeutil.NewConcurrentSet[int64](),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bus == nil {
		h.bus = eventbus.NewLocalBus(eventbus.WithLogger(h.Logger()))
	}

	answers := map[events.Name]eventbus.Responder{
		events.GetMaxPlayers: func(context.Context, []any) (any, error) {
			return h.maxPlayers, nil
		},
		events.GetCurrentSessionsCount: func(context.Context, []any) (any, error) {
			return h.Count(), nil
		},
		events.GetCurrentSessions: func(context.Context, []any) (any, error) {
			return h.Sessions(), nil
		},
	}
	for name, r := range answers {
		if err := h.bus.Answer(name, r); err != nil {
			return nil, err
		}
	}
	eventbus.On2(h.bus, events.DisconnectPlayer, h.onDisconnectPlayer)
	return h, nil
}

// Bus 返回宿主的事件总线。
func (h *Host) Bus() *eventbus.LocalBus {
	return h.bus
}

func (h *Host) MaxPlayers() uint16 {
	return h.maxPlayers
}

// Register 把一个会话加入在线注册表，会话 ID 重复时返回 ErrSessionExists。
func (h *Host) Register(c *model.Client, s *model.Session) error {
	if c == nil || s == nil {
		return merr.WrapErrParameterMissing("client/session", "register")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; ok {
		return merr.WrapErrSessionExists(s.ID)
	}
	h.sessions[s.ID] = Entry{Client: c, Session: s}
	return nil
}

// Unregister 移除并返回会话 id 对应的记录。
func (h *Host) Unregister(id uuid.UUID) (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[id]
	if !ok {
		return Entry{}, merr.WrapErrSessionNotFound(id)
	}
	delete(h.sessions, id)
	return e, nil
}

func (h *Host) Get(id uuid.UUID) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.sessions[id]
	return e, ok
}

// Range 按会话创建时间顺序遍历在线记录，fn 返回 false 时中断。
func (h *Host) Range(fn func(e Entry) bool) {
	for _, e := range h.snapshot() {
		if !fn(e) {
			return
		}
	}
}

func (h *Host) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions 返回当前全部在线会话，按创建时间排序。
func (h *Host) Sessions() []*model.Session {
	entries := h.snapshot()
	out := make([]*model.Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Session)
	}
	return out
}

// Kicks 返回收到的 DisconnectPlayer 命令。
func (h *Host) Kicks() []Kick {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Kick(nil), h.kicks...)
}

func (h *Host) snapshot() []Entry {
	h.mu.RLock()
	out := make([]Entry, 0, len(h.sessions))
	for _, e := range h.sessions {
		out = append(out, e)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Session, out[j].Session
		if a.Created.Equal(b.Created) {
			return a.ID.String() < b.ID.String()
		}
		return a.Created.Before(b.Created)
	})
	return out
}

func (h *Host) onDisconnectPlayer(ctx context.Context, id uuid.UUID, message string) error {
	h.mu.Lock()
	h.kicks = append(h.kicks, Kick{SessionID: id, Message: message})
	h.mu.Unlock()

	h.Logger().Info("disconnect player", log.FieldSessionID(id), zap.String("message", message))
	return h.Disconnect(ctx, id)
}

// user 返回 SteamID 对应的用户，首次出现时触发 UserCreating/UserCreated。
func (h *Host) user(ctx context.Context, c *model.Client) (*model.User, error) {
	if u := h.knownUser(c.SteamID); u != nil {
		return u, nil
	}

	h.userMu.Lock()
	defer h.userMu.Unlock()
	if u := h.knownUser(c.SteamID); u != nil {
		return u, nil
	}

	if err := h.bus.Emit(ctx, events.UserCreating, c); err != nil {
		return nil, err
	}
	u := model.NewUser(c.SteamID, c.Name)
	h.mu.Lock()
	h.users[c.SteamID] = u
	h.mu.Unlock()
	h.seen.Insert(c.SteamID)
	if err := h.bus.Emit(ctx, events.UserCreated, c, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (h *Host) knownUser(steamID int64) *model.User {
	if !h.seen.Contain(steamID) {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[steamID]
}

func ipOf(endPoint string) string {
	host, _, err := net.SplitHostPort(endPoint)
	if err != nil {
		return endPoint
	}
	return host
}
