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

package conc

import (
	"time"

	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/pkg/log"
)

type poolOption struct {
	nonBlocking    bool
	expiryDuration time.Duration
	// 任务 panic 总会转为 Future 的错误；concealPanic 为 false 时随后继续 panic，由 worker 的 PanicHandler 记录。
	concealPanic bool
	logger       *log.MLogger
}

func defaultPoolOption() *poolOption {
	return &poolOption{}
}

func (opt *poolOption) log() *log.MLogger {
	if opt.logger != nil {
		return opt.logger
	}
	return log.With()
}

func (opt *poolOption) antsOptions() []ants.Option {
	result := []ants.Option{
		ants.WithNonblocking(opt.nonBlocking),
		ants.WithPanicHandler(func(v any) {
			opt.log().Error("conc pool worker panicked", zap.Any("panic", v))
		}),
	}
	if opt.expiryDuration > 0 {
		result = append(result, ants.WithExpiryDuration(opt.expiryDuration))
	}
	return result
}

// PoolOption 配置 Pool。
type PoolOption func(opt *poolOption)

// WithNonBlocking 为 true 时池满的 Submit 立即失败，默认阻塞等待空闲 worker。
func WithNonBlocking(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.nonBlocking = v
	}
}

// WithExpiryDuration 设置空闲 worker 的回收间隔。
func WithExpiryDuration(d time.Duration) PoolOption {
	return func(opt *poolOption) {
		opt.expiryDuration = d
	}
}

func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.concealPanic = v
	}
}

func WithPoolLogger(l *log.MLogger) PoolOption {
	return func(opt *poolOption) {
		opt.logger = l
	}
}
