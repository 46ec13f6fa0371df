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
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// 这两个错误码只在链路上出现，还原时映射回 context 的错误。
const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// 叶子错误。错误码随宿主链路传输，已发布的错误码不可改动；新增前先确认已有错误能否表达。
var (
	ErrServiceNotReady = newSessionError("service not ready", 1, true)
	ErrServiceInternal = newSessionError("service internal error", 5, false)

	ErrEventUnknown         = newSessionError("unknown event", 100, false)
	ErrEventPayloadMismatch = newSessionError("event payload mismatch", 101, false)
	ErrNoResponder          = newSessionError("no responder for request", 102, true)
	ErrRequestTimeout       = newSessionError("request timeout", 103, true)
	ErrResponderExists      = newSessionError("responder already registered", 104, false)
	ErrEventHandlerFailed   = newSessionError("event handler failed", 105, false)

	ErrLinkNotConnected = newSessionError("host link not connected", 200, true)
	ErrLinkClosed       = newSessionError("host link closed", 201, false)
	ErrLinkProtocol     = newSessionError("host link protocol violation", 203, false)
	ErrLinkRefNotFound  = newSessionError("deferral reference not found", 204, false)

	ErrUserNotFound             = newSessionError("user not found", 300, false)
	ErrUserExists               = newSessionError("user already exists", 301, false)
	ErrUserSteamIDConflict      = newSessionError("user steam id already in use", 302, false)
	ErrSessionNotFound          = newSessionError("session not found", 310, false)
	ErrSessionExists            = newSessionError("session already exists", 311, false)
	ErrStorageDriverUnsupported = newSessionError("storage driver unsupported", 320, false)

	ErrClientRejected = newSessionError("client connection rejected", 400, false)

	ErrIoFailed = newSessionError("IO failed", 1001, false)

	ErrParameterInvalid  = newSessionError("invalid parameter", 1100, false)
	ErrParameterMissing  = newSessionError("missing parameter", 1101, false)
	ErrParameterTooLarge = newSessionError("parameter too large", 1102, false)

	ErrOperationNotSupported = newSessionError("unsupported operation", 3000, false)

	// errUnexpected 是未知错误在链路上的错误码。
	errUnexpected = newSessionError("unexpected error", (1<<16)-1, false)
)

// knownErrors 按错误码还原远端错误的可重试属性。
var knownErrors = lo.SliceToMap([]sessionError{
	ErrServiceNotReady, ErrServiceInternal,
	ErrEventUnknown, ErrEventPayloadMismatch, ErrNoResponder, ErrRequestTimeout, ErrResponderExists, ErrEventHandlerFailed,
	ErrLinkNotConnected, ErrLinkClosed, ErrLinkProtocol, ErrLinkRefNotFound,
	ErrUserNotFound, ErrUserExists, ErrUserSteamIDConflict, ErrSessionNotFound, ErrSessionExists, ErrStorageDriverUnsupported,
	ErrClientRejected,
	ErrIoFailed,
	ErrParameterInvalid, ErrParameterMissing, ErrParameterTooLarge,
	ErrOperationNotSupported,
}, func(e sessionError) (int32, sessionError) { return e.errCode, e })

// sessionError 是带错误码的叶子错误，errors.Is 只比较错误码。
type sessionError struct {
	msg       string
	retriable bool
	errCode   int32
}

func newSessionError(msg string, code int32, retriable bool) sessionError {
	return sessionError{msg: msg, retriable: retriable, errCode: code}
}

func (e sessionError) code() int32 { return e.errCode }

func (e sessionError) Error() string { return e.msg }

func (e sessionError) Is(err error) bool {
	cause, ok := errors.Cause(err).(sessionError)
	return ok && cause.errCode == e.errCode
}

// with 返回附带字段与描述的副本，错误码不变。
func (e sessionError) with(desc string, fields ...field) sessionError {
	var b strings.Builder
	b.WriteString(e.msg)
	for _, f := range fields {
		fmt.Fprintf(&b, "[%s=%v]", f.name, f.value)
	}
	if desc != "" {
		b.WriteString(": ")
		b.WriteString(desc)
	}
	e.msg = b.String()
	return e
}

type field struct {
	name  string
	value any
}

func kv(name string, value any) field {
	return field{name: name, value: value}
}

// multiErrors 的 cause 是最后一个错误，Code 据此取值；Is 对任一错误成立即可。
type multiErrors []error

func (e multiErrors) Unwrap() error { return e[len(e)-1] }

func (e multiErrors) Error() string {
	return strings.Join(lo.Map(e, func(err error, _ int) string { return err.Error() }), ": ")
}

func (e multiErrors) Is(target error) bool {
	return lo.ContainsBy(e, func(err error) bool { return errors.Is(err, target) })
}

// Combine 合并多个错误，忽略 nil；全部为 nil 时返回 nil，只有一个时原样返回。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return multiErrors(errs)
}
