package router

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

type nopSession struct{}

func (nopSession) ID() uint64               { return 1 }
func (nopSession) Context() context.Context { return context.Background() }
func (nopSession) RemoteAddr() net.Addr     { return nil }
func (nopSession) LocalAddr() net.Addr      { return nil }
func (nopSession) Send(*wire.Frame) error   { return nil }
func (nopSession) Close() error             { return nil }

func TestRouterDispatch(t *testing.T) {
	r := New()
	var got []wire.Kind
	record := func(_ session.Session, f *wire.Frame) error {
		got = append(got, f.Kind)
		return nil
	}
	MustRegister(r, wire.KindEvent, record)
	MustRegister(r, wire.KindResponse, record)

	require.NoError(t, r.Handle(nopSession{}, &wire.Frame{Kind: wire.KindEvent, Name: events.ClientConnected}))
	require.NoError(t, r.Handle(nopSession{}, &wire.Frame{Kind: wire.KindResponse, Seq: 9}))
	assert.Equal(t, []wire.Kind{wire.KindEvent, wire.KindResponse}, got)
}

func TestRouterRejects(t *testing.T) {
	r := New()
	MustRegister(r, wire.KindEvent, func(session.Session, *wire.Frame) error { return nil })

	assert.ErrorIs(t, r.Register(wire.KindEvent, func(session.Session, *wire.Frame) error { return nil }), merr.ErrParameterInvalid)
	assert.ErrorIs(t, r.Register(wire.KindTrigger, nil), merr.ErrParameterMissing)

	// 未通过校验的帧不会到达处理函数。
	assert.ErrorIs(t, r.Handle(nopSession{}, &wire.Frame{Kind: wire.KindEvent}), merr.ErrLinkProtocol)
	assert.ErrorIs(t, r.Handle(nopSession{}, &wire.Frame{Kind: wire.KindCallback, Ref: 1, Op: wire.OpDone}), merr.ErrLinkProtocol)
	assert.ErrorIs(t, r.Handle(nil, &wire.Frame{Kind: wire.KindEvent}), merr.ErrParameterMissing)
	assert.ErrorIs(t, r.Handle(nopSession{}, nil), merr.ErrParameterMissing)

	assert.Panics(t, func() {
		MustRegister(r, wire.KindEvent, func(session.Session, *wire.Frame) error { return nil })
	})
}
