// Package memstore 提供基于内存 map 的 storage.Store 实现，用于测试与单进程部署。
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Store 使用读写锁保护的 map 保存用户与会话，读写均复制值，调用方持有的指针不会被共享。
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]model.User
	bySteam  map[int64]uuid.UUID
	sessions map[uuid.UUID]model.Session
}

var _ storage.Store = (*Store)(nil)

// New 创建一个空的内存存储。
func New() *Store {
	return &Store{
		users:    make(map[uuid.UUID]model.User),
		bySteam:  make(map[int64]uuid.UUID),
		sessions: make(map[uuid.UUID]model.Session),
	}
}

func (s *Store) CreateUser(_ context.Context, u *model.User) error {
	if u == nil {
		return merr.WrapErrParameterMissing("user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return merr.WrapErrUserExists(u.ID)
	}
	if _, ok := s.bySteam[u.SteamID]; ok {
		return merr.WrapErrUserSteamIDConflict(u.SteamID)
	}
	s.users[u.ID] = *u
	s.bySteam[u.SteamID] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, merr.WrapErrUserNotFound(id)
	}
	return &u, nil
}

func (s *Store) GetUserBySteamID(_ context.Context, steamID int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySteam[steamID]
	if !ok {
		return nil, merr.WrapErrUserNotFound(steamID)
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]*model.User, error) {
	s.mu.RLock()
	users := lo.MapToSlice(s.users, func(_ uuid.UUID, u model.User) *model.User { return &u })
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if !users[i].Created.Equal(users[j].Created) {
			return users[i].Created.Before(users[j].Created)
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, u *model.User) error {
	if u == nil {
		return merr.WrapErrParameterMissing("user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[u.ID]
	if !ok {
		return merr.WrapErrUserNotFound(u.ID)
	}
	if owner, taken := s.bySteam[u.SteamID]; taken && owner != u.ID {
		return merr.WrapErrUserSteamIDConflict(u.SteamID)
	}
	delete(s.bySteam, old.SteamID)
	s.bySteam[u.SteamID] = u.ID
	s.users[u.ID] = *u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return merr.WrapErrUserNotFound(id)
	}
	delete(s.bySteam, u.SteamID)
	delete(s.users, id)
	return nil
}

func (s *Store) CreateSession(_ context.Context, sess *model.Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return merr.WrapErrSessionExists(sess.ID)
	}
	s.sessions[sess.ID] = detach(sess)
	return nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, merr.WrapErrSessionNotFound(id)
	}
	return &sess, nil
}

func (s *Store) ListSessions(_ context.Context, filter storage.SessionFilter) ([]*model.Session, error) {
	s.mu.RLock()
	out := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.Match(&sess) {
			out = append(out, &sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, sess *model.Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return merr.WrapErrSessionNotFound(sess.ID)
	}
	s.sessions[sess.ID] = detach(sess)
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return merr.WrapErrSessionNotFound(id)
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) Close() error {
	return nil
}

// detach 复制会话并去掉展开的 User 引用，时间字段同样复制一份。
func detach(sess *model.Session) model.Session {
	cp := *sess
	cp.User = nil
	if sess.Connected != nil {
		t := *sess.Connected
		cp.Connected = &t
	}
	if sess.Disconnected != nil {
		t := *sess.Disconnected
		cp.Disconnected = &t
	}
	return cp
}
