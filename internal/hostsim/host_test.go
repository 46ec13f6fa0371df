package hostsim

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/rpc"
	"github.com/lk2023060901/sessionmanager-go/internal/sessionmanager"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

type HostSuite struct {
	suite.Suite

	ctx  context.Context
	host *Host
	m    *sessionmanager.Manager

	alice *model.Client
	bob   *model.Client
}

func (s *HostSuite) SetupTest() {
	s.ctx = context.Background()
	host, err := New(WithMaxPlayers(2), WithDeferTimeout(200*time.Millisecond))
	s.Require().NoError(err)
	s.host = host
	s.m = sessionmanager.New(host.Bus(), rpc.NewLoopback(host.Bus()))

	s.alice = &model.Client{Handle: 1, Name: "alice", SteamID: 76561198000000001, EndPoint: "10.0.0.1:50000"}
	s.bob = &model.Client{Handle: 2, Name: "bob", SteamID: 76561198000000002, EndPoint: "10.0.0.2:50000"}
}

func (s *HostSuite) record() *[]events.Name {
	var got []events.Name
	s.m.ClientConnecting.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientDeferralsEventArgs) {
		got = append(got, events.ClientConnecting)
	})
	s.m.UserCreating.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientEventArgs) {
		got = append(got, events.UserCreating)
	})
	s.m.UserCreated.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientUserEventArgs) {
		got = append(got, events.UserCreated)
	})
	s.m.SessionCreating.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientEventArgs) {
		got = append(got, events.SessionCreating)
	})
	s.m.SessionCreated.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientSessionDeferralsEventArgs) {
		got = append(got, events.SessionCreated)
	})
	s.m.ClientConnected.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientSessionEventArgs) {
		got = append(got, events.ClientConnected)
	})
	return &got
}

func (s *HostSuite) TestConnectOrder() {
	got := s.record()

	sess, err := s.host.Connect(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Equal([]events.Name{
		events.ClientConnecting, events.UserCreating, events.UserCreated,
		events.SessionCreating, events.SessionCreated, events.ClientConnected,
	}, *got)
	s.Equal("10.0.0.1", sess.IPAddress)
	s.NotNil(sess.Connected)
	s.Equal(sess.User.ID, sess.UserID)

	// 同一 SteamID 第二次连接不再创建用户。
	*got = nil
	s.Require().NoError(s.host.Disconnect(s.ctx, sess.ID))
	again, err := s.host.Connect(s.ctx, s.alice)
	s.Require().NoError(err)
	s.NotContains(*got, events.UserCreated)
	s.Equal(sess.UserID, again.UserID)
}

func (s *HostSuite) TestQueries() {
	first, err := s.host.Connect(s.ctx, s.alice)
	s.Require().NoError(err)
	second, err := s.host.Connect(s.ctx, s.bob)
	s.Require().NoError(err)

	max, err := s.m.MaxPlayers(s.ctx)
	s.NoError(err)
	s.EqualValues(2, max)

	count, err := s.m.CurrentSessionsCount(s.ctx)
	s.NoError(err)
	s.Equal(2, count)

	list, err := s.m.CurrentSessions(s.ctx)
	s.NoError(err)
	s.Require().Len(list, 2)
	s.ElementsMatch([]uuid.UUID{first.ID, second.ID}, []uuid.UUID{list[0].ID, list[1].ID})

	_, err = s.host.Connect(s.ctx, &model.Client{Handle: 3, Name: "carol", SteamID: 3})
	s.ErrorIs(err, merr.ErrClientRejected)
}

func (s *HostSuite) TestDeferredRejection() {
	s.m.ClientConnecting.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientDeferralsEventArgs) {
		a.Deferrals.Defer()
		a.Deferrals.Update("checking")
		go a.Deferrals.Done("banned")
	})

	_, err := s.host.Connect(s.ctx, s.alice)
	s.ErrorIs(err, merr.ErrClientRejected)
	s.Contains(err.Error(), "banned")
	s.Zero(s.host.Count())
}

func (s *HostSuite) TestDropOnSessionCreated() {
	s.m.SessionCreated.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionDeferralsEventArgs) {
		a.Deferrals.Drop("kicked")
	})

	_, err := s.host.Connect(s.ctx, s.alice)
	s.ErrorIs(err, merr.ErrClientRejected)
	s.Zero(s.host.Count())
}

func (s *HostSuite) TestDeferWithoutDoneTimesOut() {
	s.m.ClientConnecting.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientDeferralsEventArgs) {
		a.Deferrals.Defer()
	})

	_, err := s.host.Connect(s.ctx, s.alice)
	s.ErrorIs(err, merr.ErrClientRejected)
}

func (s *HostSuite) TestDeferThenAccept() {
	s.m.SessionCreated.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionDeferralsEventArgs) {
		a.Deferrals.Defer()
		time.AfterFunc(10*time.Millisecond, func() { a.Deferrals.Done("") })
	})

	sess, err := s.host.Connect(s.ctx, s.alice)
	s.Require().NoError(err)
	_, ok := s.host.Get(sess.ID)
	s.True(ok)
}

func (s *HostSuite) TestDisconnectCommand() {
	var disconnected *model.Session
	s.m.ClientDisconnected.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionEventArgs) {
		disconnected = a.Session
	})

	sess, err := s.host.Connect(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Require().NoError(s.m.Disconnect(s.ctx, sess, sessionmanager.WithMessage("custom")))

	s.Equal([]Kick{{SessionID: sess.ID, Message: "custom"}}, s.host.Kicks())
	s.Require().NotNil(disconnected)
	s.Equal(sess.ID, disconnected.ID)
	s.Equal(ReasonDisconnected, disconnected.DisconnectReason)
	s.Zero(s.host.Count())

	// 未知会话：宿主处理失败只记录日志，命令本身发送成功。
	s.NoError(s.m.DisconnectID(s.ctx, uuid.New()))
	s.Len(s.host.Kicks(), 2)
}

func (s *HostSuite) TestReconnectAndTimeOut() {
	var reconnected sessionmanager.ClientReconnectEventArgs
	s.m.ClientReconnected.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientReconnectEventArgs) {
		reconnected = a
	})
	var timedOut *model.Session
	s.m.SessionTimedOut.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionEventArgs) {
		timedOut = a.Session
	})
	var initialized bool
	s.m.ClientInitialized.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientSessionEventArgs) {
		initialized = true
	})

	old, err := s.host.Connect(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Require().NoError(s.host.Initialize(s.ctx, old.ID))
	s.True(initialized)

	fresh, err := s.host.Reconnect(s.ctx, old.ID)
	s.Require().NoError(err)
	s.Equal(old.ID, reconnected.OldSession.ID)
	s.Equal(fresh.ID, reconnected.NewSession.ID)
	s.Equal(ReasonReconnected, old.DisconnectReason)
	s.Equal(old.UserID, fresh.UserID)
	_, ok := s.host.Get(old.ID)
	s.False(ok)

	s.Require().NoError(s.host.TimeOut(s.ctx, fresh.ID))
	s.Require().NotNil(timedOut)
	s.Equal(ReasonTimedOut, timedOut.DisconnectReason)
	s.Zero(s.host.Count())
	s.ErrorIs(s.host.TimeOut(s.ctx, fresh.ID), merr.ErrSessionNotFound)
}

func (s *HostSuite) TestRegistry() {
	sess := model.NewSession(nil, "10.0.0.9")
	s.Require().NoError(s.host.Register(s.bob, sess))
	s.ErrorIs(s.host.Register(s.bob, sess), merr.ErrSessionExists)

	n := 0
	s.host.Range(func(e Entry) bool {
		n++
		s.Equal(s.bob, e.Client)
		return true
	})
	s.Equal(1, n)

	e, err := s.host.Unregister(sess.ID)
	s.NoError(err)
	s.Equal(sess, e.Session)
	_, err = s.host.Unregister(sess.ID)
	s.ErrorIs(err, merr.ErrSessionNotFound)
}

func (s *HostSuite) TestSimulate() {
	connected := 0
	s.m.ClientConnected.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientSessionEventArgs) {
		connected++
	})

	ctx, cancel := context.WithTimeout(s.ctx, 200*time.Millisecond)
	defer cancel()
	s.NoError(s.host.Simulate(ctx, 2, 5*time.Millisecond))
	s.Positive(connected)
	s.LessOrEqual(s.host.Count(), 2)

	s.Error(s.host.Simulate(s.ctx, 0, time.Millisecond))
}

func (s *HostSuite) TestConcurrentFirstConnectCreatesOneUser() {
	var creating, created atomic.Int32
	s.m.UserCreating.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientEventArgs) {
		creating.Add(1)
		time.Sleep(20 * time.Millisecond)
	})
	s.m.UserCreated.Subscribe(func(*sessionmanager.Manager, sessionmanager.ClientUserEventArgs) {
		created.Add(1)
	})

	const n = 8
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.host.user(s.ctx, s.alice)
			if s.NoError(err) {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	s.EqualValues(1, creating.Load())
	s.EqualValues(1, created.Load())
	for _, id := range ids[1:] {
		s.Equal(ids[0], id)
	}
}

func TestHost(t *testing.T) {
	suite.Run(t, new(HostSuite))
}
