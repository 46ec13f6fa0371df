package hostlink

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/sessionmanager"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) deferrals() *sessionmanager.Deferrals {
	return sessionmanager.NewDeferrals(
		func() { r.add("defer") },
		func(reason string) { r.add("done:" + reason) },
		func(message string) { r.add("update:" + message) },
		func(reason string) { r.add("drop:" + reason) },
	)
}

type HostLinkSuite struct {
	suite.Suite

	ctx    context.Context
	cancel context.CancelFunc

	cfg    Config
	host   *eventbus.LocalBus
	gw     *Gateway
	srv    *httptest.Server
	client *Client
	m      *sessionmanager.Manager

	player *model.Client
}

func (s *HostLinkSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cfg = DefaultConfig()
	s.cfg.RequestTimeout = time.Second
	s.cfg.AckTimeout = 2 * time.Second
	s.cfg.DialMaxElapsed = 5 * time.Second
	s.cfg.CompressThreshold = 64

	s.host = eventbus.NewLocalBus(eventbus.WithRequestTimeout(time.Second))
	gw, err := NewGateway(s.ctx, s.host, s.cfg)
	s.Require().NoError(err)
	s.gw = gw
	s.srv = httptest.NewServer(gw)

	s.cfg.URL = "ws" + strings.TrimPrefix(s.srv.URL, "http") + s.cfg.Path
	client, err := NewClient(s.cfg)
	s.Require().NoError(err)
	s.client = client
	s.Require().NoError(client.Connect(s.ctx))
	s.m = sessionmanager.New(client, client)

	s.Eventually(func() bool { return s.gw.Plugins() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.player = &model.Client{Handle: 7, Name: "bob", SteamID: 76561198000000042, EndPoint: "10.1.0.7:30120"}
}

func (s *HostLinkSuite) TearDownTest() {
	_ = s.client.Close()
	_ = s.gw.Close()
	s.srv.Close()
	s.cancel()
}

func (s *HostLinkSuite) emit(name events.Name, args ...any) {
	s.Require().NoError(s.host.Emit(s.ctx, name, args...))
}

func (s *HostLinkSuite) TestRelayedEventReachesManager() {
	got := make(chan sessionmanager.ClientSessionEventArgs, 1)
	s.m.ClientConnected.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionEventArgs) {
		got <- a
	})

	sess := model.NewSession(model.NewUser(s.player.SteamID, s.player.Name), "10.1.0.7")
	s.emit(events.ClientConnected, s.player, sess)

	select {
	case a := <-got:
		s.Equal(s.player.Name, a.Client.Name)
		s.Equal(s.player.SteamID, a.Client.SteamID)
		s.Equal(sess.ID, a.Session.ID)
		s.Equal(sess.UserID, a.Session.UserID)
	case <-time.After(2 * time.Second):
		s.Fail("ClientConnected was not relayed")
	}
}

func (s *HostLinkSuite) TestNilArgumentsSurvive() {
	got := make(chan sessionmanager.ClientReconnectEventArgs, 1)
	s.m.ClientReconnecting.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientReconnectEventArgs) {
		got <- a
	})

	sess := model.NewSession(nil, "10.1.0.7")
	s.emit(events.ClientReconnecting, s.player, nil, sess)

	select {
	case a := <-got:
		s.Nil(a.OldSession)
		s.Equal(sess.ID, a.NewSession.ID)
	case <-time.After(2 * time.Second):
		s.Fail("ClientReconnecting was not relayed")
	}
}

func (s *HostLinkSuite) TestDeferralsAppliedBeforeEmitReturns() {
	s.m.ClientConnecting.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientDeferralsEventArgs) {
		a.Deferrals.Defer()
		a.Deferrals.Update("checking ban list")
		a.Deferrals.Done("")
	})

	rec := &recorder{}
	s.emit(events.ClientConnecting, s.player, rec.deferrals())

	s.Equal([]string{"defer", "update:checking ban list", "done:"}, rec.snapshot())
	s.gw.mu.Lock()
	s.Empty(s.gw.refs)
	s.gw.mu.Unlock()
}

func (s *HostLinkSuite) TestUndeferredRefIsReleased() {
	var seen bool
	s.m.SessionCreated.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionDeferralsEventArgs) {
		seen = a.Deferrals != nil
	})

	rec := &recorder{}
	s.emit(events.SessionCreated, s.player, model.NewSession(nil, "10.1.0.7"), rec.deferrals())

	s.True(seen)
	s.Empty(rec.snapshot())
	s.gw.mu.Lock()
	s.Empty(s.gw.refs)
	s.gw.mu.Unlock()
}

func (s *HostLinkSuite) TestDeferredRefOutlivesEvent() {
	var held *sessionmanager.Deferrals
	s.m.ClientConnecting.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientDeferralsEventArgs) {
		held = a.Deferrals
		held.Defer()
	})

	rec := &recorder{}
	s.emit(events.ClientConnecting, s.player, rec.deferrals())
	s.Require().NotNil(held)
	s.Equal([]string{"defer"}, rec.snapshot())

	held.Done("server is full")
	s.Eventually(func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	s.Equal("done:server is full", rec.snapshot()[1])

	s.gw.mu.Lock()
	s.Empty(s.gw.refs)
	s.gw.mu.Unlock()

	// 句柄已失效，后续调用被宿主丢弃。
	held.Drop("late")
	time.Sleep(50 * time.Millisecond)
	s.Len(rec.snapshot(), 2)
}

func (s *HostLinkSuite) TestAckTimeoutDoesNotBlockHost() {
	s.cfg.AckTimeout = 50 * time.Millisecond
	s.gw.cfg.AckTimeout = s.cfg.AckTimeout

	release := make(chan struct{})
	defer close(release)
	s.client.On(events.ClientConnecting, func(context.Context, []any) error {
		<-release
		return nil
	})

	start := time.Now()
	s.emit(events.ClientConnecting, s.player, (&recorder{}).deferrals())
	s.Less(time.Since(start), time.Second)
}

func (s *HostLinkSuite) TestRequestsAnsweredByHost() {
	sess := model.NewSession(model.NewUser(s.player.SteamID, s.player.Name), "10.1.0.7")
	s.Require().NoError(s.host.Answer(events.GetMaxPlayers, func(context.Context, []any) (any, error) {
		return uint16(48), nil
	}))
	s.Require().NoError(s.host.Answer(events.GetCurrentSessions, func(context.Context, []any) (any, error) {
		return []*model.Session{sess}, nil
	}))

	max, err := s.m.MaxPlayers(s.ctx)
	s.NoError(err)
	s.EqualValues(48, max)

	list, err := s.m.CurrentSessions(s.ctx)
	s.NoError(err)
	s.Require().Len(list, 1)
	s.Equal(sess.ID, list[0].ID)
	s.Equal(sess.IPAddress, list[0].IPAddress)
}

func (s *HostLinkSuite) TestQueryInsideNotification() {
	s.Require().NoError(s.host.Answer(events.GetMaxPlayers, func(context.Context, []any) (any, error) {
		return uint16(32), nil
	}))

	type result struct {
		max uint16
		err error
	}
	got := make(chan result, 1)
	s.m.UserCreating.Subscribe(func(m *sessionmanager.Manager, _ sessionmanager.ClientEventArgs) {
		max, err := m.MaxPlayers(s.ctx)
		got <- result{max, err}
	})

	s.emit(events.UserCreating, s.player)

	select {
	case r := <-got:
		s.NoError(r.err)
		s.EqualValues(32, r.max)
	case <-time.After(2 * time.Second):
		s.Fail("query from notification handler did not complete")
	}
}

func (s *HostLinkSuite) TestQueryInsideDeferredNotification() {
	s.Require().NoError(s.host.Answer(events.GetMaxPlayers, func(context.Context, []any) (any, error) {
		return uint16(32), nil
	}))
	s.m.ClientConnecting.Subscribe(func(m *sessionmanager.Manager, a sessionmanager.ClientDeferralsEventArgs) {
		a.Deferrals.Defer()
		max, err := m.MaxPlayers(s.ctx)
		if err != nil || max != 32 {
			a.Deferrals.Drop("lookup failed")
			return
		}
		a.Deferrals.Done("")
	})

	rec := &recorder{}
	start := time.Now()
	s.emit(events.ClientConnecting, s.player, rec.deferrals())

	s.Less(time.Since(start), s.cfg.RequestTimeout)
	s.Equal([]string{"defer", "done:"}, rec.snapshot())
}

func (s *HostLinkSuite) TestEventsKeepArrivalOrder() {
	const n = 20
	got := make(chan uuid.UUID, n)
	s.m.ClientConnected.Subscribe(func(_ *sessionmanager.Manager, a sessionmanager.ClientSessionEventArgs) {
		got <- a.Session.ID
	})

	want := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		sess := model.NewSession(nil, "10.1.0.7")
		want = append(want, sess.ID)
		s.emit(events.ClientConnected, s.player, sess)
	}

	seen := make([]uuid.UUID, 0, n)
	for len(seen) < n {
		select {
		case id := <-got:
			seen = append(seen, id)
		case <-time.After(2 * time.Second):
			s.FailNow("events were not relayed", "got %d of %d", len(seen), n)
		}
	}
	s.Equal(want, seen)
}

func (s *HostLinkSuite) TestRequestWithoutResponder() {
	_, err := s.m.CurrentSessionsCount(s.ctx)
	s.ErrorIs(err, merr.ErrNoResponder)
}

func (s *HostLinkSuite) TestRequestTimeout() {
	s.client.cfg.RequestTimeout = 50 * time.Millisecond
	s.Require().NoError(s.host.Answer(events.GetMaxPlayers, func(ctx context.Context, _ []any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := s.m.MaxPlayers(s.ctx)
	s.ErrorIs(err, merr.ErrRequestTimeout)
}

func (s *HostLinkSuite) TestRequestCanceled() {
	s.Require().NoError(s.host.Answer(events.GetMaxPlayers, func(ctx context.Context, _ []any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(s.ctx)
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := s.client.Request(ctx, events.GetMaxPlayers)
	s.ErrorIs(err, context.Canceled)
}

func (s *HostLinkSuite) TestDisconnectReachesHost() {
	type command struct {
		id      uuid.UUID
		message string
	}
	got := make(chan command, 1)
	eventbus.On2(s.host, events.DisconnectPlayer, func(_ context.Context, id uuid.UUID, message string) error {
		got <- command{id: id, message: message}
		return nil
	})

	id := uuid.New()
	s.Require().NoError(s.m.DisconnectID(s.ctx, id, sessionmanager.WithMessage("bye")))

	select {
	case c := <-got:
		s.Equal(id, c.id)
		s.Equal("bye", c.message)
	case <-time.After(2 * time.Second):
		s.Fail("DisconnectPlayer did not reach the host")
	}
}

func (s *HostLinkSuite) TestAnswerNotSupportedOnPlugin() {
	err := s.client.Answer(events.GetMaxPlayers, func(context.Context, []any) (any, error) { return nil, nil })
	s.ErrorIs(err, merr.ErrOperationNotSupported)
}

func (s *HostLinkSuite) TestReconnectAfterHostDrop() {
	for _, sess := range s.gw.acceptor.Sessions() {
		s.Require().NoError(sess.Close())
	}
	s.Require().NoError(s.host.Answer(events.GetMaxPlayers, func(context.Context, []any) (any, error) {
		return uint16(32), nil
	}))

	s.Eventually(func() bool {
		if !s.client.Connected() || s.gw.Plugins() != 1 {
			return false
		}
		max, err := s.m.MaxPlayers(s.ctx)
		return err == nil && max == 32
	}, 5*time.Second, 20*time.Millisecond)
}

func (s *HostLinkSuite) TestCloseFailsPendingRequest() {
	entered := make(chan struct{})
	s.Require().NoError(s.host.Answer(events.GetMaxPlayers, func(ctx context.Context, _ []any) (any, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.client.Request(context.Background(), events.GetMaxPlayers)
		errCh <- err
	}()
	<-entered
	s.Require().NoError(s.client.Close())

	select {
	case err := <-errCh:
		s.ErrorIs(err, merr.ErrLinkClosed)
	case <-time.After(2 * time.Second):
		s.Fail("pending request was not failed on close")
	}
	s.False(s.client.Connected())
	s.Eventually(func() bool { return s.gw.Plugins() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHostLink(t *testing.T) {
	suite.Run(t, new(HostLinkSuite))
}

func TestClientNotConnected(t *testing.T) {
	client, err := NewClient(DefaultConfig())
	require.NoError(t, err)
	m := sessionmanager.New(client, client)

	_, err = m.MaxPlayers(context.Background())
	assert.ErrorIs(t, err, merr.ErrLinkNotConnected)
	assert.ErrorIs(t, m.DisconnectID(context.Background(), uuid.New()), merr.ErrLinkNotConnected)
	assert.False(t, client.Connected())
}

func TestCarriesDeferrals(t *testing.T) {
	for _, name := range events.Notifications() {
		assert.Contains(t, eventArgs, name)
	}
	assert.True(t, carriesDeferrals(events.ClientConnecting))
	assert.True(t, carriesDeferrals(events.SessionCreated))
	assert.False(t, carriesDeferrals(events.ClientConnected))
	assert.False(t, carriesDeferrals(events.GetMaxPlayers))
}
