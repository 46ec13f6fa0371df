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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EnvPrefix 为日志相关环境变量的统一前缀。
const EnvPrefix = "SESSIONMGR_LOG_"

// globalState 是 ReplaceGlobals 替换的一组全局对象。
type globalState struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	props  *ZapProperties
}

var (
	globals atomic.Pointer[globalState]
	// leveled 按级别缓存 Ctx 使用的 Logger，下标为 level - DebugLevel。
	leveled [zapcore.FatalLevel - zapcore.DebugLevel + 1]atomic.Pointer[zap.Logger]

	cleanupMu sync.Mutex
	cleanups  []func()

	// globalLimiter 为 nil 时不限流。
	globalLimiter      atomic.Pointer[utils.ReconfigurableRateLimiter]
	_namedRateLimiters sync.Map
)

// RateLimiter 为限流日志所需的最小接口。
type RateLimiter interface {
	CheckCredit(delta float64) bool
}

type nopRateLimiter struct{}

func (nopRateLimiter) CheckCredit(float64) bool { return true }

func init() {
	conf := &Config{
		Level:  envString("LEVEL", "info"),
		Format: envString("FORMAT", "console"),
		Stdout: true,
	}
	lg, props, err := InitLogger(conf, zap.OnFatal(zapcore.WriteThenPanic))
	if err != nil {
		conf.Level = "info"
		lg, props, _ = InitLogger(conf, zap.OnFatal(zapcore.WriteThenPanic))
	}
	ReplaceGlobals(lg, props)

	if envBool("RATE_ENABLE", false) {
		globalLimiter.Store(utils.NewRateLimiter(
			envFloat("RATE_CREDIT_PER_SECOND", 1),
			envFloat("RATE_MAX_BALANCE", 60),
		))
	}
}

// InitLogger 构建进程级 Logger，并把它作为 Ctx 各级别 Logger 的来源。
// 模块 Logger 请用 NewLogger，它不触碰全局状态。
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	lg, props, err := NewLogger(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	for i := range leveled {
		level := zapcore.DebugLevel + zapcore.Level(i)
		// IncreaseLevel 不能降低级别，低于初始级别的直接复用 lg。
		if level <= props.Level.Level() {
			leveled[i].Store(lg)
			continue
		}
		leveled[i].Store(lg.WithOptions(zap.IncreaseLevel(level)))
	}
	return lg.WithOptions(zap.AddCallerSkip(1)), props, nil
}

// NewLogger 按配置创建一个独立的 Logger，输出到 cfg 指定的文件与标准输出。
func NewLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	var outputs []zapcore.WriteSyncer
	if cfg.File.Filename != "" {
		fl, err := initFileLog(&cfg.File)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, zapcore.AddSync(fl))
	}
	if cfg.Stdout {
		stdout, _, err := zap.Open("stdout")
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, stdout)
	}
	return InitLoggerWithWriteSyncer(cfg, zap.CombineWriteSyncers(outputs...), opts...)
}

// InitTestLogger 创建一个输出到 t.Log 的 Logger，zap 内部错误会让测试失败。不影响全局状态。
func InitTestLogger(t zaptest.TestingT, cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	writer := zaptest.NewTestingWriter(t)
	opts = append([]zap.Option{zap.ErrorOutput(writer.WithMarkFailed(true))}, opts...)
	return InitLoggerWithWriteSyncer(cfg, writer, opts...)
}

// InitLoggerWithWriteSyncer 使用指定的 WriteSyncer 初始化 Logger。
// 开启异步写入时，后台协程在 Cleanup 中停止。
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	level := zap.NewAtomicLevelAt(lvl)
	enc := NewTextEncoderByConfig(cfg)

	var core zapcore.Core = NewTextCore(enc, output, level)
	if cfg.Async.Enable {
		async := NewAsyncTextIOCore(enc, cfg.Async, output, level)
		registerCleanup(async.Stop)
		core = async
	}
	lg := zap.New(core, append(cfg.zapOptions(output), opts...)...)
	return lg, &ZapProperties{Core: core, Syncer: output, Level: level}, nil
}

func initFileLog(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	path := filepath.Join(cfg.RootPath, cfg.Filename)
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return nil, errors.Newf("log file %s is a directory", path)
	}
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

// L 返回全局 Logger，可通过 ReplaceGlobals 替换，并发安全。
func L() *zap.Logger {
	return globals.Load().logger
}

// S 返回全局 SugaredLogger，并发安全。
func S() *zap.SugaredLogger {
	return globals.Load().sugar
}

// R 返回限流日志使用的全局 RateLimiter，未开启限流时永不丢弃。
func R() RateLimiter {
	if rl := globalLimiter.Load(); rl != nil {
		return rl
	}
	return nopRateLimiter{}
}

// ctxL 返回与当前全局级别对应的 Logger。
func ctxL() *zap.Logger {
	i := globals.Load().props.Level.Level() - zapcore.DebugLevel
	if i < 0 || int(i) >= len(leveled) {
		return L()
	}
	if l := leveled[i].Load(); l != nil {
		return l
	}
	return L()
}

// ReplaceGlobals 替换全局 Logger 与 SugaredLogger，并发安全。
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	globals.Store(&globalState{logger: logger, sugar: logger.Sugar(), props: props})
}

// Cleanup 依次执行已登记的清理函数（例如停止异步写协程）并清空登记。
func Cleanup() {
	cleanupMu.Lock()
	fns := cleanups
	cleanups = nil
	cleanupMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func registerCleanup(fn func()) {
	cleanupMu.Lock()
	cleanups = append(cleanups, fn)
	cleanupMu.Unlock()
}

// Sync 刷新全局与各级别 Logger 的缓冲，返回遇到的第一个错误。
func Sync() error {
	if err := L().Sync(); err != nil {
		return err
	}
	for i := range leveled {
		if l := leveled[i].Load(); l != nil {
			if err := l.Sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(envString(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(envString(key, ""), 64); err == nil {
		return f
	}
	return def
}
