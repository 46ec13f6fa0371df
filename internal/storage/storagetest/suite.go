// Package storagetest 提供各存储后端共用的一致性测试套件。
package storagetest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// RepositorySuite 对一个 storage.Store 实现执行契约测试。
//
// 使用方嵌入该套件并设置 Open；每个测试开始前调用 Open 获取一个空的 Store。
type RepositorySuite struct {
	suite.Suite

	Open  func() storage.Store
	Store storage.Store
	ctx   context.Context
}

func (s *RepositorySuite) SetupTest() {
	s.Require().NotNil(s.Open, "RepositorySuite.Open must be set")
	s.ctx = context.Background()
	s.Store = s.Open()
}

func (s *RepositorySuite) TearDownTest() {
	if s.Store != nil {
		s.NoError(s.Store.Close())
	}
}

func (s *RepositorySuite) TestUserSteamIDUnique() {
	a := model.NewUser(76561198000000001, "alice")
	b := model.NewUser(76561198000000001, "mallory")
	c := model.NewUser(76561198000000002, "bob")

	s.Require().NoError(s.Store.CreateUser(s.ctx, a))
	s.ErrorIs(s.Store.CreateUser(s.ctx, b), merr.ErrUserSteamIDConflict)
	s.Require().NoError(s.Store.CreateUser(s.ctx, c))

	users, err := s.Store.ListUsers(s.ctx)
	s.Require().NoError(err)
	s.Len(users, 2)
}

func (s *RepositorySuite) TestUserCRUD() {
	u := model.NewUser(76561198000000010, "carol")
	s.Require().NoError(s.Store.CreateUser(s.ctx, u))
	s.ErrorIs(s.Store.CreateUser(s.ctx, u), merr.ErrUserExists)

	got, err := s.Store.GetUser(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(u.ID, got.ID)
	s.Equal(u.SteamID, got.SteamID)
	s.Equal("carol", got.Name)
	s.True(u.Created.Equal(got.Created))
	s.Nil(got.Deleted)

	bySteam, err := s.Store.GetUserBySteamID(s.ctx, u.SteamID)
	s.Require().NoError(err)
	s.Equal(u.ID, bySteam.ID)

	deleted := model.Now()
	u.Name = "carol2"
	u.Deleted = &deleted
	s.Require().NoError(s.Store.UpdateUser(s.ctx, u))
	got, err = s.Store.GetUser(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal("carol2", got.Name)
	s.Require().NotNil(got.Deleted)
	s.True(deleted.Equal(*got.Deleted))

	s.Require().NoError(s.Store.DeleteUser(s.ctx, u.ID))
	_, err = s.Store.GetUser(s.ctx, u.ID)
	s.ErrorIs(err, merr.ErrUserNotFound)
	_, err = s.Store.GetUserBySteamID(s.ctx, u.SteamID)
	s.ErrorIs(err, merr.ErrUserNotFound)
	s.ErrorIs(s.Store.DeleteUser(s.ctx, u.ID), merr.ErrUserNotFound)
	s.ErrorIs(s.Store.UpdateUser(s.ctx, u), merr.ErrUserNotFound)

	// 删除后 SteamID 可以被新用户使用。
	s.NoError(s.Store.CreateUser(s.ctx, model.NewUser(u.SteamID, "dave")))
}

func (s *RepositorySuite) TestUpdateUserSteamIDConflict() {
	a := model.NewUser(76561198000000021, "a")
	b := model.NewUser(76561198000000022, "b")
	s.Require().NoError(s.Store.CreateUser(s.ctx, a))
	s.Require().NoError(s.Store.CreateUser(s.ctx, b))

	b.SteamID = a.SteamID
	s.ErrorIs(s.Store.UpdateUser(s.ctx, b), merr.ErrUserSteamIDConflict)

	b.SteamID = 76561198000000023
	s.Require().NoError(s.Store.UpdateUser(s.ctx, b))
	got, err := s.Store.GetUserBySteamID(s.ctx, 76561198000000023)
	s.Require().NoError(err)
	s.Equal(b.ID, got.ID)
	_, err = s.Store.GetUserBySteamID(s.ctx, 76561198000000022)
	s.ErrorIs(err, merr.ErrUserNotFound)
}

func (s *RepositorySuite) TestSessionCRUD() {
	u := model.NewUser(76561198000000030, "erin")
	s.Require().NoError(s.Store.CreateUser(s.ctx, u))

	sess := model.NewSession(u, "10.0.0.30")
	s.Require().NoError(s.Store.CreateSession(s.ctx, sess))
	s.ErrorIs(s.Store.CreateSession(s.ctx, sess), merr.ErrSessionExists)

	got, err := s.Store.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.ID, got.ID)
	s.Equal(u.ID, got.UserID)
	s.Nil(got.User)
	s.Equal("10.0.0.30", got.IPAddress)
	s.True(sess.Created.Equal(got.Created))
	s.Nil(got.Connected)
	s.True(got.Active())

	sess.MarkConnected(time.Now())
	sess.MarkDisconnected(time.Now().Add(time.Second), "timed out")
	s.Require().NoError(s.Store.UpdateSession(s.ctx, sess))
	got, err = s.Store.GetSession(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.Connected)
	s.Require().NotNil(got.Disconnected)
	s.True(sess.Connected.Equal(*got.Connected))
	s.True(sess.Disconnected.Equal(*got.Disconnected))
	s.Equal("timed out", got.DisconnectReason)

	s.Require().NoError(s.Store.DeleteSession(s.ctx, sess.ID))
	_, err = s.Store.GetSession(s.ctx, sess.ID)
	s.ErrorIs(err, merr.ErrSessionNotFound)
	s.ErrorIs(s.Store.DeleteSession(s.ctx, sess.ID), merr.ErrSessionNotFound)
	s.ErrorIs(s.Store.UpdateSession(s.ctx, sess), merr.ErrSessionNotFound)
	_, err = s.Store.GetSession(s.ctx, uuid.New())
	s.ErrorIs(err, merr.ErrSessionNotFound)
}

func (s *RepositorySuite) TestListSessionsFilter() {
	u1 := model.NewUser(76561198000000041, "f")
	u2 := model.NewUser(76561198000000042, "g")
	s.Require().NoError(s.Store.CreateUser(s.ctx, u1))
	s.Require().NoError(s.Store.CreateUser(s.ctx, u2))

	s1 := model.NewSession(u1, "1")
	s2 := model.NewSession(u1, "2")
	s2.Created = s1.Created.Add(time.Millisecond)
	s2.MarkDisconnected(time.Now(), "disconnected")
	s3 := model.NewSession(u2, "3")
	s3.Created = s1.Created.Add(2 * time.Millisecond)
	for _, sess := range []*model.Session{s3, s1, s2} {
		s.Require().NoError(s.Store.CreateSession(s.ctx, sess))
	}

	all, err := s.Store.ListSessions(s.ctx, storage.SessionFilter{})
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{s1.ID, s2.ID, s3.ID}, ids(all))

	byUser, err := s.Store.ListSessions(s.ctx, storage.SessionFilter{UserID: u1.ID})
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{s1.ID, s2.ID}, ids(byUser))

	active, err := s.Store.ListSessions(s.ctx, storage.SessionFilter{UserID: u1.ID, ActiveOnly: true})
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{s1.ID}, ids(active))

	none, err := s.Store.ListSessions(s.ctx, storage.SessionFilter{UserID: uuid.New()})
	s.Require().NoError(err)
	s.Empty(none)
}

func ids(sessions []*model.Session) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.ID)
	}
	return out
}
