package logutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"

	"github.com/lk2023060901/sessionmanager-go/pkg/log"
)

func TestHandshakeHeader(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	h := HandshakeHeader(now)

	id, err := trace.TraceIDFromHex(h.Get(clientRequestIDHeader))
	assert.NoError(t, err)
	assert.True(t, id.IsValid())

	msec, ok := clientRequestMsec(h)
	assert.True(t, ok)
	assert.EqualValues(t, 1700000000123, msec)

	assert.NotEqual(t, h.Get(clientRequestIDHeader), HandshakeHeader(now).Get(clientRequestIDHeader))
}

func TestWithHandshakeTrace(t *testing.T) {
	base := context.Background()

	ctx := WithHandshakeTrace(base, HandshakeHeader(time.Now()))
	assert.NotNil(t, ctx.Value(log.CtxLogKey))

	// 没有任何可用信息时 ctx 原样返回。
	assert.Equal(t, base, WithHandshakeTrace(base, http.Header{}))

	h := http.Header{}
	h.Set(clientRequestIDHeader, "not-a-trace-id")
	h.Set(clientRequestMsecHeader, "abc")
	ctx = WithHandshakeTrace(base, h)
	assert.NotEqual(t, base, ctx)
	_, ok := clientRequestMsec(h)
	assert.False(t, ok)
}
