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

package log

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// lazyWithCore 推迟 core.With(fields) 到第一次真正写日志时执行。
//
// 组件在构造时通常会 With 一批字段，但其中很多 Logger 从不输出，
// 推迟编码可以省掉这部分开销。参见 https://github.com/uber-go/zap/issues/1426。
type lazyWithCore struct {
	base   zapcore.Core
	fields []zapcore.Field

	once  sync.Once
	bound atomic.Pointer[zapcore.Core]
}

var _ zapcore.Core = (*lazyWithCore)(nil)

// NewLazyWith 返回等价于 core.With(fields)、但延迟编码字段的 Core。
func NewLazyWith(core zapcore.Core, fields []zapcore.Field) zapcore.Core {
	return &lazyWithCore{base: core, fields: fields}
}

// core 返回绑定了字段的 Core，首次调用时完成绑定。
func (c *lazyWithCore) core() zapcore.Core {
	c.once.Do(func() {
		bound := c.base.With(c.fields)
		c.bound.Store(&bound)
	})
	return *c.bound.Load()
}

// Enabled 只看级别，不需要触发绑定。
func (c *lazyWithCore) Enabled(level zapcore.Level) bool {
	return c.base.Enabled(level)
}

func (c *lazyWithCore) With(fields []zapcore.Field) zapcore.Core {
	return c.core().With(fields)
}

func (c *lazyWithCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return c.core().Check(e, ce)
}

func (c *lazyWithCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.core().Write(e, fields)
}

func (c *lazyWithCore) Sync() error {
	return c.core().Sync()
}
