// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return file + ":" + strconv.Itoa(line)
}

// newBackOff 返回不带抖动、每次翻倍、上限为 maxSleepTime 的间隔序列。
func (c *config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.sleep
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.maxSleepTime
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do 使用重试机制执行指定函数。
//
// 说明：
//   - fn 返回 nil 即视为成功并立即返回；
//   - 通过 Unrecoverable 包装的错误、RetryErr 判定为不可重试的错误会立即返回；
//   - 每次失败后休眠时间翻倍，上限为 MaxSleepTime；
//   - ctx 结束或剩余时间不足一次休眠时，返回最近一次的业务错误。
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c := newDefaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	logger := log.Ctx(ctx).With(zap.String("caller", getCaller(2)), zap.Uint("attempts", c.attempts))
	b := c.newBackOff()

	var lastErr error
	for i := uint(0); c.attempts == 0 || i < c.attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if i%4 == 0 {
			logger.Warn("retry func failed", zap.Uint("retried", i), zap.Error(err))
		}

		// context 错误优先返回之前的业务错误，便于调用方看到真实原因。
		isContextErr := errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
		giveUp := func(reason string) error {
			logger.Warn("retry func failed, "+reason, zap.Uint("retried", i), zap.Bool("isContextErr", isContextErr))
			if isContextErr && lastErr != nil {
				return lastErr
			}
			return err
		}

		if !IsRecoverable(err) {
			return giveUp("not recoverable")
		}
		if c.isRetryErr != nil && !c.isRetryErr(err) {
			return giveUp("not retryable")
		}
		if c.attempts != 0 && i+1 == c.attempts {
			lastErr = err
			break
		}
		wait := b.NextBackOff()
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return giveUp("deadline")
		}
		lastErr = err

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			logger.Warn("retry func failed, ctx done", zap.Uint("retried", i))
			return lastErr
		}
	}
	logger.Warn("retry func failed, reach max retry", zap.Error(lastErr))
	return lastErr
}

// errUnrecoverable 是 Unrecoverable 附加的标记错误。
var errUnrecoverable = errors.New("unrecoverable error")

// Unrecoverable 标记 err 为不可恢复，Do 遇到时立即返回。
func Unrecoverable(err error) error {
	return merr.Combine(err, errUnrecoverable)
}

func IsRecoverable(err error) bool {
	return !errors.Is(err, errUnrecoverable)
}
