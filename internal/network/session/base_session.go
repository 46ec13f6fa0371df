package session

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/sessionmanager-go/internal/network"
	"github.com/lk2023060901/sessionmanager-go/internal/network/codec"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/conc"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Config 描述单个会话的收发参数。
//
// 说明：
//   - SendQueueSize 为发送队列容量；
//   - ReadTimeout/WriteTimeout 为单次读写的超时时间，为 0 表示不设置 deadline；
//   - MaxMessageSize 为单条 WebSocket 消息的最大字节数，为 0 表示不限制。
type Config struct {
	SendQueueSize  int           `mapstructure:"sendQueueSize"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	MaxMessageSize int64         `mapstructure:"maxMessageSize"`
}

// defaultSendQueueSize 为每个会话的发送队列容量。
const defaultSendQueueSize = 1024

// closeGracePeriod 为发送关闭帧时的写超时。
const closeGracePeriod = time.Second

// DefaultConfig 返回会话的默认配置。
func DefaultConfig() Config {
	return Config{
		SendQueueSize:  defaultSendQueueSize,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 16 << 20,
	}
}

// BaseSession 是基于 gorilla/websocket 的 Session 实现。
//
// 设计目标：
//   - 发送路径只在 sendLoop 协程中执行，避免多协程并发写连接；
//   - 读取路径由持有者调用 ReadLoop 驱动，同一会话上的帧按到达顺序回调；
//   - 编码、写出或读取失败都会关闭会话并取消 Context。
type BaseSession struct {
	log.Binder

	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn  *websocket.Conn
	codec codec.Codec
	cfg   Config

	remoteAddr net.Addr
	localAddr  net.Addr

	// sendQueue 为待发送帧的队列，Send 只负责投递。
	sendQueue chan *wire.Frame

	closeOnce sync.Once
}

var _ Session = (*BaseSession)(nil)

// NewBaseSession 创建一个基于 WebSocket 连接的会话并启动发送协程。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID，由调用侧保证唯一；
//   - conn  ：已完成握手的 WebSocket 连接；
//   - c     ：用于该连接的 Codec。
func NewBaseSession(parent context.Context, id uint64, conn *websocket.Conn, c codec.Codec, cfg Config) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	ctx, cancel := context.WithCancel(parent)

	s := &BaseSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		codec:      c,
		cfg:        cfg,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendQueue:  make(chan *wire.Frame, cfg.SendQueueSize),
	}
	s.SetLogger(log.Ctx(parent).With(zap.Uint64("linkSession", id), log.FieldRemote(s.remoteAddr.String())))
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	conc.Go(func() (struct{}, error) {
		s.sendLoop()
		return struct{}{}, nil
	})
	return s
}

func (s *BaseSession) ID() uint64 {
	return s.id
}

func (s *BaseSession) Context() context.Context {
	return s.ctx
}

func (s *BaseSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

func (s *BaseSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Send 实现 Session.Send。
func (s *BaseSession) Send(f *wire.Frame) error {
	if f == nil {
		return merr.WrapErrParameterMissing("frame", "send")
	}
	select {
	case <-s.ctx.Done():
		return merr.WrapErrLinkClosed("send", f.Kind.String())
	default:
	}
	select {
	case <-s.ctx.Done():
		return merr.WrapErrLinkClosed("send", f.Kind.String())
	case s.sendQueue <- f:
		return nil
	}
}

// Close 实现 Session.Close：先尽力发送关闭帧，再关闭连接。
func (s *BaseSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		err = s.conn.Close()
	})
	return err
}

// ReadLoop 持续读取并解码帧，按到达顺序回调 onFrame，直到连接断开。
//
// 返回值：
//   - nil 表示正常结束（对端正常关闭或本端主动 Close）；
//   - 其余错误为读取失败的原因。
//
// 非二进制消息被忽略；解码失败或不合法的帧记录日志后丢弃，不会结束会话。
func (s *BaseSession) ReadLoop(onFrame func(f *wire.Frame)) error {
	defer s.Close()

	for {
		if s.cfg.ReadTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				return s.readErr(err)
			}
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return s.readErr(err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		f := &wire.Frame{}
		if err := s.codec.Decode(bytes.NewReader(data), f); err != nil {
			s.Logger().Warn("drop undecodable frame", zap.Stringer("stage", network.StageDecode), zap.Error(err))
			continue
		}
		if err := f.Validate(); err != nil {
			s.Logger().Warn("drop invalid frame", zap.Stringer("stage", network.StageDecode), zap.Error(err))
			continue
		}
		onFrame(f)
	}
}

// readErr 把读取错误归类：本端关闭或对端正常关闭返回 nil。
func (s *BaseSession) readErr(err error) error {
	if s.ctx.Err() != nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	s.Logger().Debug("link read failed", zap.Stringer("stage", network.StageRecvRaw), zap.Error(err))
	return merr.WrapErrLinkClosed(err.Error())
}

// sendLoop 为每个会话启动的专职发送协程。
func (s *BaseSession) sendLoop() {
	var buf bytes.Buffer
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.sendQueue:
			buf.Reset()
			if err := s.codec.Encode(&buf, f); err != nil {
				// 单帧编码失败不影响后续帧。
				s.Logger().Warn("drop unencodable frame", zap.Stringer("stage", network.StageEncode),
					zap.Stringer("kind", f.Kind), zap.Error(err))
				continue
			}
			if err := s.write(buf.Bytes()); err != nil {
				s.Logger().Warn("link write failed, closing", zap.Stringer("stage", network.StageSend), zap.Error(err))
				_ = s.Close()
				return
			}
		}
	}
}

func (s *BaseSession) write(data []byte) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}
