package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/pkg/metrics"
)

// instrumented 为每次仓库操作记录 sessionmgr_storage_ops_total。
type instrumented struct {
	inner Store
}

var _ Store = (*instrumented)(nil)

// Instrument 包装 store，使每次操作都计入存储指标。
func Instrument(store Store) Store {
	if _, ok := store.(*instrumented); ok {
		return store
	}
	return &instrumented{inner: store}
}

func observe(op string, err error) {
	metrics.StorageOpsTotal.WithLabelValues(op, metrics.StatusOf(err)).Inc()
}

func (s *instrumented) CreateUser(ctx context.Context, u *model.User) error {
	err := s.inner.CreateUser(ctx, u)
	observe("create_user", err)
	return err
}

func (s *instrumented) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.inner.GetUser(ctx, id)
	observe("get_user", err)
	return u, err
}

func (s *instrumented) GetUserBySteamID(ctx context.Context, steamID int64) (*model.User, error) {
	u, err := s.inner.GetUserBySteamID(ctx, steamID)
	observe("get_user_by_steam_id", err)
	return u, err
}

func (s *instrumented) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.inner.ListUsers(ctx)
	observe("list_users", err)
	return users, err
}

func (s *instrumented) UpdateUser(ctx context.Context, u *model.User) error {
	err := s.inner.UpdateUser(ctx, u)
	observe("update_user", err)
	return err
}

func (s *instrumented) DeleteUser(ctx context.Context, id uuid.UUID) error {
	err := s.inner.DeleteUser(ctx, id)
	observe("delete_user", err)
	return err
}

func (s *instrumented) CreateSession(ctx context.Context, sess *model.Session) error {
	err := s.inner.CreateSession(ctx, sess)
	observe("create_session", err)
	return err
}

func (s *instrumented) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	sess, err := s.inner.GetSession(ctx, id)
	observe("get_session", err)
	return sess, err
}

func (s *instrumented) ListSessions(ctx context.Context, filter SessionFilter) ([]*model.Session, error) {
	sessions, err := s.inner.ListSessions(ctx, filter)
	observe("list_sessions", err)
	return sessions, err
}

func (s *instrumented) UpdateSession(ctx context.Context, sess *model.Session) error {
	err := s.inner.UpdateSession(ctx, sess)
	observe("update_session", err)
	return err
}

func (s *instrumented) DeleteSession(ctx context.Context, id uuid.UUID) error {
	err := s.inner.DeleteSession(ctx, id)
	observe("delete_session", err)
	return err
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}
