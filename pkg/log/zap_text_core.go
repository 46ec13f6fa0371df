// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// NewTextCore 创建同步写入 ws 的 Core。
func NewTextCore(enc zapcore.Encoder, ws zapcore.WriteSyncer, enab zapcore.LevelEnabler) zapcore.Core {
	return &textIOCore{LevelEnabler: enab, enc: enc, out: ws}
}

// textIOCore 与 zapcore.NewCore 行为一致，区别在于 Error 以上级别写入后立即 Sync。
type textIOCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	out zapcore.WriteSyncer
}

func (c *textIOCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	addFields(enc, fields)
	return &textIOCore{LevelEnabler: c.LevelEnabler, enc: enc, out: c.out}
}

func (c *textIOCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *textIOCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	if _, err := c.out.Write(buf.Bytes()); err != nil {
		return err
	}
	if ent.Level > zapcore.ErrorLevel {
		// Sync 失败无处上报，忽略。
		_ = c.out.Sync()
	}
	return nil
}

func (c *textIOCore) Sync() error {
	return c.out.Sync()
}

// addFields 把 fields 写进编码器，编码器必须同时实现 ObjectEncoder（zap 自带的 json/console 都满足）。
func addFields(enc zapcore.Encoder, fields []zapcore.Field) {
	oe, ok := enc.(zapcore.ObjectEncoder)
	if !ok {
		panic(fmt.Sprintf("log: encoder %T does not support With", enc))
	}
	for i := range fields {
		fields[i].AddTo(oe)
	}
}
