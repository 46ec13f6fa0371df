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
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxLogKeyType struct{}

// CtxLogKey 是 ctx 中保存 *MLogger 的 key。
var CtxLogKey = ctxLogKeyType{}

// Debug、Info、Warn、Error、Fatal 直接写全局 Logger，只在进程入口等没有 ctx 的地方使用。
// 组件内部请使用 Binder.Logger() 或 Ctx(ctx)。

func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal 记录日志后调用 os.Exit(1)。
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// With 基于全局 Logger 创建一个携带 fields 的 MLogger，字段在第一次输出时才编码。
func With(fields ...zap.Field) *MLogger {
	return &MLogger{
		Logger: L().WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return NewLazyWith(core, fields)
		})).WithOptions(zap.AddCallerSkip(-1)),
	}
}

// WithTraceID 返回一个携带 traceID 字段的 ctx。
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return WithFields(ctx, zap.String("traceID", traceID))
}

// WithSession 返回一个携带会话 ID 字段的 ctx。
func WithSession(ctx context.Context, id interface{ String() string }) context.Context {
	return WithFields(ctx, FieldSessionID(id))
}

// WithEvent 返回一个携带事件名字段的 ctx，用于一次事件分发链路上的日志。
func WithEvent(ctx context.Context, name interface{ String() string }) context.Context {
	return WithFields(ctx, FieldEvent(name))
}

// WithFields 在 ctx 已有的 Logger 上追加 fields，ctx 中没有 Logger 时基于全局 Logger。
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	base := ctxL()
	if ctxLogger, ok := ctx.Value(CtxLogKey).(*MLogger); ok {
		base = ctxLogger.Logger
	}
	return context.WithValue(ctx, CtxLogKey, &MLogger{Logger: base.With(fields...)})
}

// NewIntentContext 为一次后台流程（例如一次链路拨号）开启 span，
// 返回的 ctx 携带 role、intent 与 traceID 字段。
func NewIntentContext(parent context.Context, role string, intent string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(role).Start(parent, intent)
	ctx = WithFields(ctx,
		zap.String("role", role),
		zap.String("intent", intent),
		zap.String("traceID", span.SpanContext().TraceID().String()))
	return ctx, span
}

// Ctx 返回 ctx 中保存的 Logger，没有时返回全局 Logger。
func Ctx(ctx context.Context) *MLogger {
	if ctx != nil {
		if ctxLogger, ok := ctx.Value(CtxLogKey).(*MLogger); ok {
			return ctxLogger
		}
	}
	return &MLogger{Logger: ctxL()}
}
