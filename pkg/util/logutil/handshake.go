package logutil

import (
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/pkg/log"
)

const (
	clientRequestIDHeader   = "Client-Request-Id"
	clientRequestMsecHeader = "Client-Request-Msec"
)

// HandshakeHeader 生成插件拨号时附带的握手请求头。
//
// 说明：
//   - Client-Request-Id 为一个新的 16 字节十六进制 ID，可被解析为 TraceID；
//   - Client-Request-Msec 为 now 的毫秒时间戳。
func HandshakeHeader(now time.Time) http.Header {
	id := uuid.New()
	h := http.Header{}
	h.Set(clientRequestIDHeader, hex.EncodeToString(id[:]))
	h.Set(clientRequestMsecHeader, strconv.FormatInt(now.UnixMilli(), 10))
	return h
}

// WithHandshakeTrace 从握手请求头中提取请求 ID 与时间戳，注入到 ctx 携带的 Logger 中。
//
// 请求 ID 是合法 TraceID 时以 traceID 字段记录，否则以 client_request_id 字段记录；
// 请求头中没有 ID 时回退到 ctx 中的 span。
func WithHandshakeTrace(ctx context.Context, header http.Header) context.Context {
	newctx := ctx
	var traceID trace.TraceID

	if requestID := header.Get(clientRequestIDHeader); requestID != "" {
		var err error
		traceID, err = trace.TraceIDFromHex(requestID)
		if err != nil {
			newctx = log.WithFields(newctx, zap.String("client_request_id", requestID))
		}
	}
	if msec, ok := clientRequestMsec(header); ok {
		newctx = log.WithFields(newctx, zap.Int64("clientRequestUnixmsec", msec))
	}

	if !traceID.IsValid() {
		traceID = trace.SpanContextFromContext(newctx).TraceID()
	}
	if traceID.IsValid() {
		newctx = log.WithTraceID(newctx, traceID.String())
	}
	return newctx
}

func clientRequestMsec(header http.Header) (int64, bool) {
	raw := header.Get(clientRequestMsecHeader)
	if raw == "" {
		return -1, false
	}
	msec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1, false
	}
	return msec, true
}
