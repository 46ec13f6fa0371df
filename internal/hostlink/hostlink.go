// Package hostlink 把插件与宿主之间的事件总线延伸到一条 WebSocket 链路上。
//
// 两端：
//   - Client 运行在插件一侧，实现 eventbus.EventManager 与 rpc.Handler，可直接交给 sessionmanager.New；
//   - Gateway 运行在宿主一侧，是一个 http.Handler，把宿主总线上的生命周期事件转发给所有已连接的插件，
//     并代为执行插件发来的查询、命令与 deferral 回调。
//
// 帧格式见 wire 包；每条 WebSocket 二进制消息承载一帧。
package hostlink

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/network/codec"
	"github.com/lk2023060901/sessionmanager-go/internal/network/compressor"
	"github.com/lk2023060901/sessionmanager-go/internal/network/framer"
	"github.com/lk2023060901/sessionmanager-go/internal/network/serializer"
	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
)

// Config 是链路两端共用的配置，两端的压缩设置必须一致。
type Config struct {
	// URL 为 Client 拨号的地址，例如 ws://127.0.0.1:30120/sessionmanager。
	URL string `mapstructure:"url"`
	// Path 为 Gateway 挂载的 HTTP 路径。
	Path string `mapstructure:"path"`

	// RequestTimeout 为 Client 等待查询应答的上限。
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	// AckTimeout 为 Gateway 等待插件确认携带 deferral 的事件的上限。
	AckTimeout time.Duration `mapstructure:"ackTimeout"`
	// DialMaxElapsed 为 Client 一次连续重拨的总时长上限，0 表示一直重试直到 ctx 结束。
	DialMaxElapsed time.Duration `mapstructure:"dialMaxElapsed"`

	Compression       bool   `mapstructure:"compression"`
	CompressThreshold int    `mapstructure:"compressThreshold"`
	MaxFrameSize      uint32 `mapstructure:"maxFrameSize"`

	// Workers 为 Gateway 处理查询请求的协程池容量。
	Workers int `mapstructure:"workers"`

	Session session.Config `mapstructure:"session"`
}

// DefaultConfig 返回链路的默认配置。
func DefaultConfig() Config {
	return Config{
		URL:               "ws://127.0.0.1:30120/sessionmanager",
		Path:              "/sessionmanager",
		RequestTimeout:    eventbus.DefaultRequestTimeout,
		AckTimeout:        eventbus.DefaultRequestTimeout,
		Compression:       true,
		CompressThreshold: 1024,
		MaxFrameSize:      16 << 20,
		Workers:           64,
		Session:           session.DefaultConfig(),
	}
}

// NewCodec 按配置组装链路编解码器：sonic JSON，超过阈值时 zstd 压缩，外层为长度前缀帧。
func NewCodec(cfg Config) (codec.Codec, error) {
	opts := codec.Options{
		Framer:            framer.NewLengthPrefixedFramer(cfg.MaxFrameSize),
		Serializer:        serializer.JSONSerializer{},
		EnableCompression: cfg.Compression,
		CompressThreshold: cfg.CompressThreshold,
	}
	if cfg.Compression {
		zstd, err := compressor.NewZstdCompressor(compressor.WithMaxDecodedSize(cfg.MaxFrameSize))
		if err != nil {
			return nil, errors.Wrap(err, "hostlink: create zstd compressor")
		}
		opts.Compressor = zstd
	}
	return codec.New(opts)
}

// argKind 描述事件参数在链路上的类型。
type argKind uint8

const (
	argClient argKind = iota + 1
	argUser
	argSession
	argDeferrals
)

// eventArgs 为每个生命周期通知的参数布局，与 sessionmanager 订阅时的签名一致。
var eventArgs = map[events.Name][]argKind{
	events.ClientConnecting:    {argClient, argDeferrals},
	events.UserCreating:        {argClient},
	events.UserCreated:         {argClient, argUser},
	events.SessionCreating:     {argClient},
	events.SessionCreated:      {argClient, argSession, argDeferrals},
	events.ClientConnected:     {argClient, argSession},
	events.ClientReconnecting:  {argClient, argSession, argSession},
	events.ClientReconnected:   {argClient, argSession, argSession},
	events.ClientDisconnecting: {argClient},
	events.ClientDisconnected:  {argClient, argSession},
	events.ClientInitializing:  {argClient},
	events.ClientInitialized:   {argClient, argSession},
	events.SessionTimedOut:     {argClient, argSession},
}

// carriesDeferrals 判断事件是否携带 deferral 句柄。
func carriesDeferrals(name events.Name) bool {
	return lo.Contains(eventArgs[name], argDeferrals)
}
