// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := errors.Wrap(WrapErrUserNotFound(1), "failed to get user")
	s.ErrorIs(err, ErrUserNotFound)
	s.Equal(Code(ErrUserNotFound), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(errUnexpected.errCode, Code(errors.New("plain")))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newSessionError("new error", ErrUserNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrUserNotFound))
}

func (s *ErrSuite) TestStatus() {
	err := errors.Wrap(WrapErrNoResponder("GetMaxPlayers"), "query max players")
	code, msg := Status(err)
	restoredErr := Error(code, msg)

	s.ErrorIs(restoredErr, ErrNoResponder)
	s.True(IsRetryableErr(restoredErr))
	s.Contains(msg, "GetMaxPlayers")

	code, msg = Status(nil)
	s.Equal(int32(0), code)
	s.Empty(msg)
	s.Nil(Error(0, ""))

	s.ErrorIs(Error(TimeoutCode, "remote deadline"), context.DeadlineExceeded)
	s.ErrorIs(Error(CanceledCode, "remote canceled"), context.Canceled)
	s.False(IsRetryableErr(Error(65000, "unknown remote code")))
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(ErrRequestTimeout))
	s.True(IsRetryableErr(errors.Wrap(ErrLinkNotConnected, "dial")))
	s.False(IsRetryableErr(ErrUserSteamIDConflict))
	s.False(IsRetryableErr(errors.New("plain")))
}

func (s *ErrSuite) TestMessageFields() {
	err := WrapErrServiceNotReady("hostlink", "dialing", "connect")
	s.Equal("connect: service not ready[component=hostlink]: dialing", err.Error())
	s.Equal("unknown event[event=ClientExploded]", WrapErrEventUnknown("ClientExploded").Error())
	s.Equal(ErrServiceNotReady.Error(), "service not ready")
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceNotReady("hostlink", "dialing"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)

	// Event bus 相关错误。
	s.ErrorIs(WrapErrEventUnknown("ClientExploded"), ErrEventUnknown)
	s.ErrorIs(WrapErrEventPayloadMismatch("SessionCreated", 1, "*model.Session", 42), ErrEventPayloadMismatch)
	s.ErrorIs(WrapErrEventArity("SessionCreated", 3, 1), ErrEventPayloadMismatch)
	s.ErrorIs(WrapErrNoResponder("GetCurrentSessions"), ErrNoResponder)
	s.ErrorIs(WrapErrRequestTimeout("GetMaxPlayers", time.Second), ErrRequestTimeout)
	s.ErrorIs(WrapErrResponderExists("GetMaxPlayers"), ErrResponderExists)
	s.ErrorIs(WrapErrEventHandlerFailed("ClientConnected", errors.New("boom")), ErrEventHandlerFailed)

	// Host link 相关错误。
	s.ErrorIs(WrapErrLinkNotConnected("ws://127.0.0.1:30120/plugin"), ErrLinkNotConnected)
	s.ErrorIs(WrapErrLinkClosed("read loop"), ErrLinkClosed)
	s.ErrorIs(WrapErrLinkProtocol("bad kind"), ErrLinkProtocol)
	s.ErrorIs(WrapErrLinkRefNotFound(7), ErrLinkRefNotFound)

	// Storage 相关错误。
	s.ErrorIs(WrapErrUserNotFound("u1", "failed to get user"), ErrUserNotFound)
	s.ErrorIs(WrapErrUserExists("u1"), ErrUserExists)
	s.ErrorIs(WrapErrUserSteamIDConflict(76561198000000000), ErrUserSteamIDConflict)
	s.ErrorIs(WrapErrSessionNotFound("s1"), ErrSessionNotFound)
	s.ErrorIs(WrapErrSessionExists("s1"), ErrSessionExists)
	s.ErrorIs(WrapErrStorageDriverUnsupported("mongo"), ErrStorageDriverUnsupported)

	// IO 相关错误。
	s.ErrorIs(WrapErrIoFailed("test_key", os.ErrClosed), ErrIoFailed)
	s.NoError(WrapErrIoFailed("test_key", nil))

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalidMsg("bad driver %s", "x"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("dsn", "no dsn parameter"), ErrParameterMissing)
	s.ErrorIs(WrapErrParameterTooLarge("frame"), ErrParameterTooLarge)
	s.ErrorIs(WrapErrOperationNotSupported("answer"), ErrOperationNotSupported)
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")
	s.Same(err, Combine(nil, err))
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrSessionNotFound(10), WrapErrUserNotFound(1))
	s.Equal(Code(ErrUserNotFound), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
