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
	"context"
	"sync"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/sessionmanager-go/pkg/metrics"
)

var _ zapcore.Core = (*asyncTextIOCore)(nil)

// asyncWriter 是所有 With 副本共享的部分：待写队列、缓冲输出与后台协程的生命周期。
type asyncWriter struct {
	bws     *zapcore.BufferedWriteSyncer
	pending chan *entryItem

	dropAfter    time.Duration
	nonDroppable zapcore.Level
	stopTimeout  time.Duration
	maxBytes     int

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	stopOnce sync.Once
}

// entryItem 是一条已编码、等待写出的日志。
type entryItem struct {
	buf   *buffer.Buffer
	level zapcore.Level
}

// asyncTextIOCore 在调用方协程内编码日志，由后台协程写入带缓冲的 WriteSyncer。
//
// 说明：
//   - 队列已满时，低于 NonDroppableLevel 的日志最多等待 DropTimeout，之后丢弃并计数；
//   - 超过 MaxBytesPerLog 的日志被截断，保留末尾换行；
//   - Stop 最多等待 StopTimeout 写完队列。
type asyncTextIOCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	w   *asyncWriter
}

// NewAsyncTextIOCore 创建异步 Core 并启动后台写协程，不再使用时需调用 Stop。
func NewAsyncTextIOCore(enc zapcore.Encoder, cfg AsyncConfig, ws zapcore.WriteSyncer, enab zapcore.LevelEnabler) *asyncTextIOCore {
	cfg = cfg.withDefaults()
	nonDroppable, _ := zapcore.ParseLevel(cfg.NonDroppableLevel)
	ctx, cancel := context.WithCancel(context.Background())
	w := &asyncWriter{
		bws: &zapcore.BufferedWriteSyncer{
			WS:            ws,
			Size:          cfg.BufferSize,
			FlushInterval: cfg.FlushInterval,
		},
		pending:      make(chan *entryItem, cfg.PendingLength),
		dropAfter:    cfg.DropTimeout,
		nonDroppable: nonDroppable,
		stopTimeout:  cfg.StopTimeout,
		maxBytes:     cfg.MaxBytesPerLog,
		ctx:          ctx,
		cancel:       cancel,
		finished:     make(chan struct{}),
	}
	go w.run()
	return &asyncTextIOCore{LevelEnabler: enab, enc: enc, w: w}
}

func (c *asyncTextIOCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	addFields(enc, fields)
	return &asyncTextIOCore{LevelEnabler: c.LevelEnabler, enc: enc, w: c.w}
}

func (c *asyncTextIOCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write 编码并入队，不等待落盘。
func (c *asyncTextIOCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	if buf.Len() == 0 {
		buf.Free()
		return nil
	}
	c.w.enqueue(&entryItem{buf: buf, level: ent.Level})
	return nil
}

// Sync 不做任何事，缓冲由 FlushInterval 与 Stop 刷新。
func (c *asyncTextIOCore) Sync() error {
	return nil
}

// Stop 停止后台协程并等待队列写完，可重复调用。
func (c *asyncTextIOCore) Stop() {
	c.w.stopOnce.Do(c.w.cancel)
	<-c.w.finished
}

func (w *asyncWriter) enqueue(item *entryItem) {
	size := float64(item.buf.Len())
	var giveUp <-chan time.Time
	if item.level < w.nonDroppable {
		timer := time.NewTimer(w.dropAfter)
		defer timer.Stop()
		giveUp = timer.C
	}
	select {
	case w.pending <- item:
		metrics.LoggingPendingWriteLength.Inc()
		metrics.LoggingPendingWriteBytes.Add(size)
	case <-giveUp:
		metrics.LoggingDroppedWrites.Inc()
		item.buf.Free()
	}
}

func (w *asyncWriter) run() {
	defer close(w.finished)
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case item := <-w.pending:
			w.write(item)
		}
	}
}

// drain 在 stopTimeout 内写完队列中剩余的日志并停止缓冲输出。
func (w *asyncWriter) drain() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.flushPending()
		if err := w.bws.Stop(); err != nil {
			metrics.LoggingIOFailure.Inc()
		}
	}()

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

func (w *asyncWriter) flushPending() {
	for {
		select {
		case item := <-w.pending:
			w.write(item)
		default:
			return
		}
	}
}

func (w *asyncWriter) write(item *entryItem) {
	size := item.buf.Len()
	metrics.LoggingPendingWriteLength.Dec()
	metrics.LoggingPendingWriteBytes.Sub(float64(size))

	if _, err := w.bws.Write(w.truncate(item.buf.Bytes())); err != nil {
		metrics.LoggingIOFailure.Inc()
	}
	item.buf.Free()
	if item.level > zapcore.ErrorLevel {
		_ = w.bws.Sync()
	}
}

// truncate 把超长日志截到 maxBytes，最后一个字节保持为原日志的结尾（换行）。
func (w *asyncWriter) truncate(b []byte) []byte {
	if w.maxBytes <= 0 || len(b) <= w.maxBytes {
		return b
	}
	metrics.LoggingTruncatedWrites.Inc()
	metrics.LoggingTruncatedWriteBytes.Add(float64(len(b) - w.maxBytes))
	last := b[len(b)-1]
	b = b[:w.maxBytes]
	b[len(b)-1] = last
	return b
}
