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
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// defaultLogMaxSize 单位 MB。
const defaultLogMaxSize = 300

// FileLogConfig 描述 lumberjack 滚动文件。Filename 为空表示不写文件。
type FileLogConfig struct {
	RootPath   string `mapstructure:"rootPath" json:"rootPath"`
	Filename   string `mapstructure:"filename" json:"filename"`
	MaxSize    int    `mapstructure:"maxSize" json:"maxSize"` // MB
	MaxDays    int    `mapstructure:"maxDays" json:"maxDays"` // 0 表示不按时间清理
	MaxBackups int    `mapstructure:"maxBackups" json:"maxBackups"`
}

// AsyncConfig 控制异步写入。零值字段由 withDefaults 补齐。
type AsyncConfig struct {
	Enable bool `mapstructure:"enable" json:"enable"`
	// FlushInterval 为缓冲输出的定时刷新间隔。
	FlushInterval time.Duration `mapstructure:"flushInterval" json:"flushInterval"`
	// DropTimeout 为队列满时低级别日志的最长等待时间，超时即丢弃。
	DropTimeout time.Duration `mapstructure:"dropTimeout" json:"dropTimeout"`
	// NonDroppableLevel 及以上级别的日志在队列满时一直等待。
	NonDroppableLevel string        `mapstructure:"nonDroppableLevel" json:"nonDroppableLevel"`
	StopTimeout       time.Duration `mapstructure:"stopTimeout" json:"stopTimeout"`
	PendingLength     int           `mapstructure:"pendingLength" json:"pendingLength"`
	BufferSize        int           `mapstructure:"bufferSize" json:"bufferSize"`
	MaxBytesPerLog    int           `mapstructure:"maxBytesPerLog" json:"maxBytesPerLog"`
}

// Config 是一个 Logger 的完整配置，application 的 logging 段按模块名解码为它。
type Config struct {
	// Level 取 trace/debug/info/warn/error/fatal，trace 按 debug 处理。
	Level string `mapstructure:"level" json:"level"`
	// Format 为 json 时输出 JSON，其余取值输出 console 格式。
	Format           string        `mapstructure:"format" json:"format"`
	DisableTimestamp bool          `mapstructure:"disableTimestamp" json:"disableTimestamp"`
	Stdout           bool          `mapstructure:"stdout" json:"stdout"`
	File             FileLogConfig `mapstructure:"file" json:"file"`
	// Development 打开 zap 开发模式，Warn 起附带堆栈。
	Development       bool `mapstructure:"development" json:"development"`
	DisableCaller     bool `mapstructure:"disableCaller" json:"disableCaller"`
	DisableStacktrace bool `mapstructure:"disableStacktrace" json:"disableStacktrace"`
	// Sampling 以秒为周期采样，参见 zapcore.NewSamplerWithOptions。
	Sampling *zap.SamplingConfig `mapstructure:"sampling" json:"sampling"`
	Async    AsyncConfig         `mapstructure:"async" json:"async"`
}

// ZapProperties 是构建 Logger 时产生的 Core、输出与动态级别。
type ZapProperties struct {
	Core   zapcore.Core
	Syncer zapcore.WriteSyncer
	Level  zap.AtomicLevel
}

// parseLevel 解析日志级别，trace 视为 debug。
func parseLevel(s string) (zapcore.Level, error) {
	if strings.EqualFold(s, "trace") {
		return zapcore.DebugLevel, nil
	}
	var level zapcore.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// NewTextEncoderByConfig 按 cfg.Format 选择 JSON 或 console 编码器。
// 时间为 ISO8601，级别大写；DisableTimestamp 时省略时间字段。
func NewTextEncoderByConfig(cfg *Config) zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "name",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.DisableTimestamp {
		encCfg.TimeKey = zapcore.OmitKey
	}
	if strings.EqualFold(cfg.Format, "json") {
		return zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

func (cfg *Config) zapOptions(errSink zapcore.WriteSyncer) []zap.Option {
	opts := []zap.Option{zap.ErrorOutput(errSink)}
	if !cfg.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}

	stackLevel := zapcore.ErrorLevel
	if cfg.Development {
		opts = append(opts, zap.Development())
		stackLevel = zapcore.WarnLevel
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(stackLevel))
	}

	if s := cfg.Sampling; s != nil {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewSamplerWithOptions(core, time.Second, s.Initial, s.Thereafter, zapcore.SamplerHook(s.Hook))
		}))
	}
	return opts
}

func (c AsyncConfig) withDefaults() AsyncConfig {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.DropTimeout <= 0 {
		c.DropTimeout = 100 * time.Millisecond
	}
	if _, err := zapcore.ParseLevel(c.NonDroppableLevel); c.NonDroppableLevel == "" || err != nil {
		c.NonDroppableLevel = zapcore.ErrorLevel.String()
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = time.Second
	}
	if c.PendingLength <= 0 {
		c.PendingLength = 1024
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 4 << 10
	}
	if c.MaxBytesPerLog <= 0 {
		c.MaxBytesPerLog = 1 << 20
	}
	return c
}
