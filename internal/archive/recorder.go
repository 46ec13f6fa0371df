// Package archive 把会话生命周期通知投影为持久化的 User / Session 记录。
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/sessionmanager"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

const (
	ReasonDisconnected = "disconnected"
	ReasonTimedOut     = "timed out"
	ReasonReconnected  = "reconnected"

	DefaultWriteTimeout = 5 * time.Second
)

// Recorder 订阅 Manager 的通知并写入存储。
//
// 说明：
//   - 写入在通知回调中同步完成，每次写入受 WriteTimeout 约束；
//   - 存储失败只记录日志，不会影响通知的转发；
//   - SteamID 冲突与重复创建视为已记录。
type Recorder struct {
	log.Binder

	store   storage.Store
	timeout time.Duration

	mu     sync.Mutex
	unsubs []func()
}

// Option 用于配置 Recorder。
type Option func(r *Recorder)

func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		r.timeout = d
	}
}

func WithLogger(l *log.MLogger) Option {
	return func(r *Recorder) {
		r.SetLogger(l)
	}
}

// New 创建一个写入 store 的 Recorder。
func New(store storage.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: DefaultWriteTimeout,
	}
	r.SetLogger(log.With(log.FieldComponent("archive")))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach 在 m 上订阅需要记录的通知，可以多次调用以挂接多个 Manager。
func (r *Recorder) Attach(m *sessionmanager.Manager) {
	unsubs := []func(){
		m.UserCreated.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientUserEventArgs) {
			r.write("user created", func(ctx context.Context) error {
				return r.createUser(ctx, a.User)
			})
		}),
		m.SessionCreated.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionDeferralsEventArgs) {
			r.write("session created", func(ctx context.Context) error {
				return r.createSession(ctx, a.Session)
			})
		}),
		m.ClientConnected.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionEventArgs) {
			r.write("client connected", func(ctx context.Context) error {
				return r.markConnected(ctx, a.Session)
			})
		}),
		m.ClientDisconnected.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionEventArgs) {
			r.write("client disconnected", func(ctx context.Context) error {
				return r.markDisconnected(ctx, a.Session, ReasonDisconnected)
			})
		}),
		m.SessionTimedOut.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionEventArgs) {
			r.write("session timed out", func(ctx context.Context) error {
				return r.markDisconnected(ctx, a.Session, ReasonTimedOut)
			})
		}),
		m.ClientReconnected.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientReconnectEventArgs) {
			r.write("client reconnected", func(ctx context.Context) error {
				if a.OldSession != nil {
					if err := r.markDisconnected(ctx, a.OldSession, ReasonReconnected); err != nil {
						return err
					}
				}
				return r.markConnected(ctx, a.NewSession)
			})
		}),
	}

	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsubs...)
	r.mu.Unlock()
}

// Detach 取消全部订阅。
func (r *Recorder) Detach() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (r *Recorder) write(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.Logger().Warn("archive write failed", zap.String("op", op), zap.Error(err))
	}
}

func (r *Recorder) createUser(ctx context.Context, u *model.User) error {
	if u == nil {
		return merr.WrapErrParameterMissing("user", "archive")
	}
	err := r.store.CreateUser(ctx, u)
	if errors.IsAny(err, merr.ErrUserExists, merr.ErrUserSteamIDConflict) {
		r.Logger().Debug("user already archived", log.FieldUserID(u.ID), log.FieldSteamID(u.SteamID))
		return nil
	}
	return err
}

func (r *Recorder) createSession(ctx context.Context, s *model.Session) error {
	if s == nil {
		return merr.WrapErrParameterMissing("session", "archive")
	}
	if s.User != nil {
		if err := r.createUser(ctx, s.User); err != nil {
			return err
		}
	}
	err := r.store.CreateSession(ctx, s)
	if errors.Is(err, merr.ErrSessionExists) {
		return nil
	}
	return err
}

// update 读取已记录的会话并应用 mutate；尚未记录时先创建。
func (r *Recorder) update(ctx context.Context, s *model.Session, mutate func(stored *model.Session)) error {
	if s == nil {
		return merr.WrapErrParameterMissing("session", "archive")
	}
	stored, err := r.store.GetSession(ctx, s.ID)
	if errors.Is(err, merr.ErrSessionNotFound) {
		fresh := *s
		mutate(&fresh)
		return r.createSession(ctx, &fresh)
	}
	if err != nil {
		return err
	}
	mutate(stored)
	return r.store.UpdateSession(ctx, stored)
}

func (r *Recorder) markConnected(ctx context.Context, s *model.Session) error {
	return r.update(ctx, s, func(stored *model.Session) {
		at := model.Now()
		if s.Connected != nil {
			at = *s.Connected
		}
		stored.MarkConnected(at)
	})
}

func (r *Recorder) markDisconnected(ctx context.Context, s *model.Session, reason string) error {
	return r.update(ctx, s, func(stored *model.Session) {
		at := model.Now()
		if s.Disconnected != nil {
			at = *s.Disconnected
		}
		stored.MarkDisconnected(at, reason)
	})
}
