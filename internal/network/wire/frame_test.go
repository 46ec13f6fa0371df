package wire

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/json"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

type FrameSuite struct {
	suite.Suite
}

func (s *FrameSuite) TestJSONUsesWireNames() {
	args, err := EncodeArgs("abc", 42)
	s.Require().NoError(err)
	f := &Frame{Kind: KindTrigger, Name: events.DisconnectPlayer, Args: args}

	data, err := json.Marshal(f)
	s.Require().NoError(err)
	s.Contains(string(data), `"name":"DisconnectPlayer"`)

	var got Frame
	s.Require().NoError(json.Unmarshal(data, &got))
	s.Equal(events.DisconnectPlayer, got.Name)
	s.Len(got.Args, 2)
	s.JSONEq(`"abc"`, string(got.Args[0]))
	s.NoError(got.Validate())
}

func (s *FrameSuite) TestErrRoundTrip() {
	f := &Frame{Kind: KindResponse, Seq: 1}
	s.NoError(f.Err())

	f.SetErr(merr.WrapErrNoResponder(events.GetMaxPlayers))
	s.ErrorIs(f.Err(), merr.ErrNoResponder)
	s.Contains(f.Error, "GetMaxPlayers")
}

func (s *FrameSuite) TestValidate() {
	s.ErrorIs((&Frame{Kind: KindEvent}).Validate(), merr.ErrLinkProtocol)
	s.ErrorIs((&Frame{Kind: KindRequest, Name: events.GetMaxPlayers}).Validate(), merr.ErrLinkProtocol)
	s.ErrorIs((&Frame{Kind: KindCallback, Ref: 3}).Validate(), merr.ErrLinkProtocol)
	s.ErrorIs((&Frame{Kind: Kind(99)}).Validate(), merr.ErrLinkProtocol)
	s.NoError((&Frame{Kind: KindCallback, Ref: 3, Op: OpDone}).Validate())
	s.Equal("kind(99)", Kind(99).String())
}

func TestFrame(t *testing.T) {
	suite.Run(t, new(FrameSuite))
}
