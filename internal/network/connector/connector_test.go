package connector

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/network/acceptor"
	"github.com/lk2023060901/sessionmanager-go/internal/network/codec"
	"github.com/lk2023060901/sessionmanager-go/internal/network/compressor"
	"github.com/lk2023060901/sessionmanager-go/internal/network/framer"
	"github.com/lk2023060901/sessionmanager-go/internal/network/serializer"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// echoHandler 把每个请求帧原样作为应答写回。
type echoHandler struct {
	closed chan error
}

func (h *echoHandler) OnConnected(session.Session) {}

func (h *echoHandler) OnMessage(sess session.Session, f *wire.Frame) {
	if f.Kind == wire.KindRequest {
		_ = sess.Send(&wire.Frame{Kind: wire.KindResponse, Seq: f.Seq, Name: f.Name, Result: f.Args[0]})
	}
}

func (h *echoHandler) OnClosed(_ session.Session, err error) {
	h.closed <- err
}

type clientHandler struct {
	frames chan *wire.Frame
	closed chan error
}

func (h *clientHandler) OnMessage(_ session.Session, f *wire.Frame) {
	h.frames <- f
}

func (h *clientHandler) OnClosed(_ session.Session, err error) {
	h.closed <- err
}

type ConnectorSuite struct {
	suite.Suite

	codec  codec.Codec
	server *echoHandler
	acc    *acceptor.BaseAcceptor
	srv    *httptest.Server
	url    string
}

func (s *ConnectorSuite) SetupTest() {
	zstd, err := compressor.NewZstdCompressor()
	s.Require().NoError(err)
	s.codec, err = codec.New(codec.Options{
		Framer:            framer.NewLengthPrefixedFramer(1 << 20),
		Serializer:        serializer.JSONSerializer{},
		Compressor:        zstd,
		EnableCompression: true,
		CompressThreshold: 128,
	})
	s.Require().NoError(err)

	s.server = &echoHandler{closed: make(chan error, 4)}
	s.acc, err = acceptor.NewBaseAcceptor(context.Background(), acceptor.Config{Session: session.DefaultConfig(), Codec: s.codec}, nil, s.server)
	s.Require().NoError(err)
	s.srv = httptest.NewServer(s.acc)
	s.url = "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *ConnectorSuite) TearDownTest() {
	_ = s.acc.Close()
	s.srv.Close()
}

func (s *ConnectorSuite) newConnector() *Connector {
	c, err := New(Config{Session: session.DefaultConfig(), Codec: s.codec})
	s.Require().NoError(err)
	return c
}

func (s *ConnectorSuite) TestRoundTrip() {
	h := &clientHandler{frames: make(chan *wire.Frame, 4), closed: make(chan error, 1)}
	sess, err := s.newConnector().Dial(context.Background(), s.url, h)
	s.Require().NoError(err)
	defer sess.Close()

	// 一个小载荷和一个超过压缩阈值的载荷。
	small, err := wire.EncodeArgs("ping")
	s.Require().NoError(err)
	large, err := wire.EncodeArgs(strings.Repeat("session-", 64))
	s.Require().NoError(err)

	s.Require().NoError(sess.Send(&wire.Frame{Kind: wire.KindRequest, Seq: 1, Name: events.GetMaxPlayers, Args: small}))
	s.Require().NoError(sess.Send(&wire.Frame{Kind: wire.KindRequest, Seq: 2, Name: events.GetCurrentSessions, Args: large}))

	for seq := uint64(1); seq <= 2; seq++ {
		select {
		case f := <-h.frames:
			s.Equal(wire.KindResponse, f.Kind)
			s.Equal(seq, f.Seq)
		case <-time.After(2 * time.Second):
			s.FailNow("no response", "seq %d", seq)
		}
	}
	s.Len(s.acc.Sessions(), 1)
}

func (s *ConnectorSuite) TestServerCloseEndsClient() {
	h := &clientHandler{frames: make(chan *wire.Frame, 1), closed: make(chan error, 1)}
	sess, err := s.newConnector().Dial(context.Background(), s.url, h)
	s.Require().NoError(err)

	s.Eventually(func() bool { return len(s.acc.Sessions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Require().NoError(s.acc.Close())

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		s.FailNow("client was not notified of close")
	}
	s.ErrorIs(sess.Send(&wire.Frame{Kind: wire.KindTrigger, Name: events.DisconnectPlayer}), merr.ErrLinkClosed)
}

func (s *ConnectorSuite) TestDialFailure() {
	h := &clientHandler{frames: make(chan *wire.Frame, 1), closed: make(chan error, 1)}
	c := s.newConnector()

	s.srv.Close()
	_, err := c.Dial(context.Background(), s.url, h)
	s.ErrorIs(err, merr.ErrLinkNotConnected)

	start := time.Now()
	_, err = c.DialWithRetry(context.Background(), s.url, h, NewBackOff(200*time.Millisecond))
	s.Error(err)
	s.Less(time.Since(start), 5*time.Second)
}

func (s *ConnectorSuite) TestDialCanceled() {
	s.srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.newConnector().DialWithRetry(ctx, s.url, &clientHandler{}, NewBackOff(0))
	s.Error(err)
}

func TestConnector(t *testing.T) {
	suite.Run(t, new(ConnectorSuite))
}

func TestNewRequiresCodec(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("connector without codec should fail")
	}
}
