package events

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/json"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

type EventsSuite struct {
	suite.Suite
}

func (s *EventsSuite) TestWireNamesAreVerbatim() {
	expected := []string{
		"GetMaxPlayers", "GetCurrentSessionsCount", "GetCurrentSessions",
		"ClientConnecting", "UserCreating", "UserCreated", "SessionCreating", "SessionCreated",
		"ClientConnected", "ClientReconnecting", "ClientReconnected", "ClientDisconnecting",
		"ClientDisconnected", "ClientInitializing", "ClientInitialized", "SessionTimedOut",
		"DisconnectPlayer",
	}
	all := All()
	s.Require().Len(all, len(expected))
	for i, n := range all {
		s.Equal(expected[i], n.String())
		parsed, err := Parse(expected[i])
		s.NoError(err)
		s.Equal(n, parsed)
	}
}

func (s *EventsSuite) TestParseRejectsUnknown() {
	_, err := Parse("clientconnecting")
	s.ErrorIs(err, merr.ErrEventUnknown)
	_, err = Parse("")
	s.ErrorIs(err, merr.ErrEventUnknown)
	s.False(Name(0).Valid())
	s.Equal("Name(200)", Name(200).String())
}

func (s *EventsSuite) TestClassification() {
	notifications := Notifications()
	s.Len(notifications, 13)
	s.Equal(ClientConnecting, notifications[0])
	s.Equal(SessionTimedOut, notifications[12])
	s.NotContains(notifications, DisconnectPlayer)

	s.True(GetCurrentSessions.IsQuery())
	s.False(DisconnectPlayer.IsQuery())
	s.False(DisconnectPlayer.IsNotification())
}

func (s *EventsSuite) TestJSON() {
	type carrier struct {
		Name Name `json:"name"`
	}
	data, err := json.Marshal(carrier{Name: SessionCreated})
	s.Require().NoError(err)
	s.JSONEq(`{"name":"SessionCreated"}`, string(data))

	var got carrier
	s.Require().NoError(json.Unmarshal(data, &got))
	s.Equal(SessionCreated, got.Name)

	s.Error(json.Unmarshal([]byte(`{"name":"Nope"}`), &got))
	_, err = json.Marshal(carrier{})
	s.Error(err)
}

func TestEvents(t *testing.T) {
	suite.Run(t, new(EventsSuite))
}
