package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/json"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

type rawValue json.RawMessage

func (r rawValue) Decode(v any) error {
	return json.Unmarshal(r, v)
}

type LocalBusSuite struct {
	suite.Suite
	bus *LocalBus
}

func (s *LocalBusSuite) SetupTest() {
	s.bus = NewLocalBus(WithRequestTimeout(100 * time.Millisecond))
}

func (s *LocalBusSuite) TestEmitOrderAndNoHandlers() {
	s.NoError(s.bus.Emit(context.Background(), events.ClientConnected))

	var order []int
	s.bus.On(events.ClientConnected, func(context.Context, []any) error { order = append(order, 1); return nil })
	s.bus.On(events.ClientConnected, func(context.Context, []any) error { order = append(order, 2); return nil })
	s.NoError(s.bus.Emit(context.Background(), events.ClientConnected))
	s.Equal([]int{1, 2}, order)
	s.Equal(2, s.bus.Handlers(events.ClientConnected))
}

func (s *LocalBusSuite) TestEmitSnapshotAndErrors() {
	boom := errors.New("boom")
	calls := 0
	s.bus.On(events.UserCreated, func(context.Context, []any) error {
		calls++
		s.bus.On(events.UserCreated, func(context.Context, []any) error { calls += 10; return nil })
		return boom
	})
	s.bus.On(events.UserCreated, func(context.Context, []any) error { panic("bad handler") })

	err := s.bus.Emit(context.Background(), events.UserCreated)
	s.ErrorIs(err, boom)
	s.ErrorIs(err, merr.ErrEventHandlerFailed)
	s.Equal(1, calls)

	s.ErrorIs(s.bus.Emit(context.Background(), events.Name(0)), merr.ErrEventUnknown)
}

func (s *LocalBusSuite) TestTypedHandlers() {
	var got []any
	On2(s.bus, events.ClientConnected, func(_ context.Context, name string, id int) error {
		got = append(got, name, id)
		return nil
	})
	s.NoError(s.bus.Emit(context.Background(), events.ClientConnected, "alice", 7))
	s.Equal([]any{"alice", 7}, got)

	s.ErrorIs(s.bus.Emit(context.Background(), events.ClientConnected, "alice"), merr.ErrEventPayloadMismatch)
	s.ErrorIs(s.bus.Emit(context.Background(), events.ClientConnected, 7, "alice"), merr.ErrEventPayloadMismatch)
	s.Len(got, 2)

	var decoded []int
	On1(s.bus, events.ClientInitializing, func(_ context.Context, v []int) error {
		decoded = v
		return nil
	})
	s.NoError(s.bus.Emit(context.Background(), events.ClientInitializing, rawValue(`[1,2,3]`)))
	s.Equal([]int{1, 2, 3}, decoded)

	var third string
	On3(s.bus, events.ClientReconnected, func(_ context.Context, a, b, c string) error {
		third = c
		return nil
	})
	s.NoError(s.bus.Emit(context.Background(), events.ClientReconnected, "a", nil, "c"))
	s.Equal("c", third)
}

func (s *LocalBusSuite) TestAnswerAndRequest() {
	_, err := s.bus.Request(context.Background(), events.GetMaxPlayers)
	s.ErrorIs(err, merr.ErrNoResponder)

	calls := 0
	s.NoError(s.bus.Answer(events.GetMaxPlayers, func(context.Context, []any) (any, error) {
		calls++
		return uint16(32), nil
	}))
	s.ErrorIs(s.bus.Answer(events.GetMaxPlayers, func(context.Context, []any) (any, error) { return nil, nil }),
		merr.ErrResponderExists)

	n, err := Request[uint16](context.Background(), s.bus, events.GetMaxPlayers)
	s.NoError(err)
	s.Equal(uint16(32), n)
	_, err = Request[uint16](context.Background(), s.bus, events.GetMaxPlayers)
	s.NoError(err)
	s.Equal(2, calls)

	_, err = Request[string](context.Background(), s.bus, events.GetMaxPlayers)
	s.ErrorIs(err, merr.ErrEventPayloadMismatch)
}

func (s *LocalBusSuite) TestRequestDecodesRemoteResult() {
	s.NoError(s.bus.Answer(events.GetCurrentSessionsCount, func(context.Context, []any) (any, error) {
		return rawValue(`5`), nil
	}))
	n, err := Request[int](context.Background(), s.bus, events.GetCurrentSessionsCount)
	s.NoError(err)
	s.Equal(5, n)
}

func (s *LocalBusSuite) TestRequestTimeout() {
	release := make(chan struct{})
	defer close(release)
	s.NoError(s.bus.Answer(events.GetCurrentSessions, func(ctx context.Context, _ []any) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}))

	start := time.Now()
	_, err := s.bus.Request(context.Background(), events.GetCurrentSessions)
	s.ErrorIs(err, merr.ErrRequestTimeout)
	s.True(merr.IsRetryableErr(err))
	s.Less(time.Since(start), 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.bus.Request(ctx, events.GetCurrentSessions)
	s.ErrorIs(err, context.Canceled)
}

func TestLocalBus(t *testing.T) {
	suite.Run(t, new(LocalBusSuite))
}
