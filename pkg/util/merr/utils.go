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
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Code 返回 err 根因的错误码，nil 为 0。
// context.Canceled 与 context.DeadlineExceeded 分别映射为 CanceledCode、TimeoutCode，其余未知错误为 errUnexpected。
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	cause := errors.Cause(err)
	if se, ok := cause.(sessionError); ok {
		return se.code()
	}
	switch {
	case errors.Is(cause, context.Canceled):
		return CanceledCode
	case errors.Is(cause, context.DeadlineExceeded):
		return TimeoutCode
	}
	return errUnexpected.code()
}

// IsRetryableErr 判断错误链的根因是否为可重试的叶子错误。
func IsRetryableErr(err error) bool {
	se, ok := errors.Cause(err).(sessionError)
	return ok && se.retriable
}

// Status 把错误拆成可跨链路传输的错误码与消息，err 为 nil 时返回 (0, "")。
// 消息取根因之上最靠近根因的一层，保留叶子错误的字段而去掉调用方的上下文。
func Status(err error) (int32, string) {
	if err == nil {
		return 0, ""
	}
	outer := err
	for next := errors.Unwrap(outer); next != nil && errors.Unwrap(next) != nil; next = errors.Unwrap(next) {
		outer = next
	}
	return Code(err), outer.Error()
}

// Error 根据远端传回的错误码与消息还原错误，code 为 0 表示成功。
// 还原后的错误与同错误码的叶子错误满足 errors.Is。
func Error(code int32, msg string) error {
	switch code {
	case 0:
		return nil
	case CanceledCode:
		return errors.Wrap(context.Canceled, msg)
	case TimeoutCode:
		return errors.Wrap(context.DeadlineExceeded, msg)
	}
	return newSessionError(msg, code, knownErrors[code].retriable)
}

// annotate 用 msg 依次拼接成的上下文包装 err。
func annotate(err error, msg []string) error {
	if len(msg) == 0 {
		return err
	}
	return errors.Wrap(err, strings.Join(msg, "->"))
}

func WrapErrServiceNotReady(component string, state string, msg ...string) error {
	return annotate(ErrServiceNotReady.with(state, kv("component", component)), msg)
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	return annotate(ErrServiceInternal.with(reason), msg)
}

func WrapErrEventUnknown(name any, msg ...string) error {
	return annotate(ErrEventUnknown.with("", kv("event", name)), msg)
}

func WrapErrEventPayloadMismatch(event any, index int, expected string, actual any, msg ...string) error {
	return annotate(ErrEventPayloadMismatch.with("",
		kv("event", event), kv("arg", index), kv("expected", expected), kv("actual", fmt.Sprintf("%T", actual)),
	), msg)
}

func WrapErrEventArity(event any, expected, actual int, msg ...string) error {
	return annotate(ErrEventPayloadMismatch.with("",
		kv("event", event), kv("expectedArgs", expected), kv("actualArgs", actual),
	), msg)
}

func WrapErrNoResponder(event any, msg ...string) error {
	return annotate(ErrNoResponder.with("", kv("event", event)), msg)
}

func WrapErrRequestTimeout(event any, timeout time.Duration, msg ...string) error {
	return annotate(ErrRequestTimeout.with("", kv("event", event), kv("timeout", timeout)), msg)
}

func WrapErrResponderExists(event any, msg ...string) error {
	return annotate(ErrResponderExists.with("", kv("event", event)), msg)
}

func WrapErrEventHandlerFailed(event any, cause error) error {
	return ErrEventHandlerFailed.with(cause.Error(), kv("event", event))
}

func WrapErrLinkNotConnected(addr string, msg ...string) error {
	return annotate(ErrLinkNotConnected.with("", kv("addr", addr)), msg)
}

func WrapErrLinkClosed(msg ...string) error {
	return annotate(ErrLinkClosed, msg)
}

func WrapErrLinkProtocol(reason string, msg ...string) error {
	return annotate(ErrLinkProtocol.with(reason), msg)
}

func WrapErrLinkRefNotFound(ref uint64, msg ...string) error {
	return annotate(ErrLinkRefNotFound.with("", kv("ref", ref)), msg)
}

func WrapErrUserNotFound(user any, msg ...string) error {
	return annotate(ErrUserNotFound.with("", kv("user", user)), msg)
}

func WrapErrUserExists(user any, msg ...string) error {
	return annotate(ErrUserExists.with("", kv("user", user)), msg)
}

func WrapErrUserSteamIDConflict(steamID int64, msg ...string) error {
	return annotate(ErrUserSteamIDConflict.with("", kv("steamID", steamID)), msg)
}

func WrapErrSessionNotFound(session any, msg ...string) error {
	return annotate(ErrSessionNotFound.with("", kv("session", session)), msg)
}

func WrapErrSessionExists(session any, msg ...string) error {
	return annotate(ErrSessionExists.with("", kv("session", session)), msg)
}

func WrapErrStorageDriverUnsupported(driver string, msg ...string) error {
	return annotate(ErrStorageDriverUnsupported.with("", kv("driver", driver)), msg)
}

func WrapErrClientRejected(reason string, msg ...string) error {
	return annotate(ErrClientRejected.with(reason), msg)
}

// WrapErrIoFailed 在 err 为 nil 时返回 nil。
func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return ErrIoFailed.with(err.Error(), kv("key", key))
}

func WrapErrParameterInvalidMsg(format string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, format, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	return annotate(ErrParameterMissing.with("", kv("missing_param", param)), msg)
}

func WrapErrParameterTooLarge(name string, msg ...string) error {
	return annotate(ErrParameterTooLarge.with("", kv("message", name)), msg)
}

func WrapErrOperationNotSupported(operation string, msg ...string) error {
	return annotate(ErrOperationNotSupported.with("", kv("operation", operation)), msg)
}
