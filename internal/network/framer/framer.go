package framer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Envelope 为一帧的逻辑内容：标志位 + 载荷。
//
// Flags 由 codec 解释（例如是否压缩），framer 只负责原样搬运。
type Envelope struct {
	Flags   uint8
	Payload []byte
}

// Framer 抽象了基于 Envelope 的打包/解包能力。
//
// 约定：
//   - 一帧数据的格式为：4 字节大端无符号整型 N + 1 字节 Flags + (N-1) 字节 Payload；
//   - N 至少为 1（仅包含 Flags 的空载荷帧）。
type Framer interface {
	// WriteFrame 将 Envelope 打包为一帧并写入到 w 中。
	WriteFrame(w io.Writer, env *Envelope) error

	// ReadFrame 从 r 中读取一帧数据并解包为 Envelope。
	ReadFrame(r io.Reader) (*Envelope, error)
}

// LengthPrefixedFramer 使用长度前缀（4 字节大端）作为帧边界。
// 适用于基于流的连接（TCP、WebSocket 二进制消息等）。
type LengthPrefixedFramer struct {
	// MaxFrameSize 为允许的最大帧大小（Flags + Payload），单位字节。
	// 为 0 时使用默认值 defaultMaxFrameSize。
	MaxFrameSize uint32
}

const (
	defaultMaxFrameSize uint32 = 16 * 1024 * 1024 // 16MB
	headerSize                 = 5
)

var _ Framer = (*LengthPrefixedFramer)(nil)

// NewLengthPrefixedFramer 创建一个长度前缀帧编码器。
// maxFrameSize 为 0 时使用默认值。
func NewLengthPrefixedFramer(maxFrameSize uint32) *LengthPrefixedFramer {
	if maxFrameSize == 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	return &LengthPrefixedFramer{
		MaxFrameSize: maxFrameSize,
	}
}

// WriteFrame 将 Envelope 编码为长度前缀帧并一次性写入。
func (f *LengthPrefixedFramer) WriteFrame(w io.Writer, env *Envelope) error {
	if env == nil {
		return merr.WrapErrParameterMissing("envelope")
	}

	length := uint32(len(env.Payload)) + 1
	if length > f.effectiveMaxSize() {
		return merr.WrapErrParameterTooLarge("frame", fmt.Sprintf("frame size %d exceeds max %d", length, f.effectiveMaxSize()))
	}

	buf := make([]byte, headerSize+len(env.Payload))
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = env.Flags
	copy(buf[headerSize:], env.Payload)

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "framer: write frame")
	}
	return nil
}

// ReadFrame 从流中读取一帧数据并解码为 Envelope。
func (f *LengthPrefixedFramer) ReadFrame(r io.Reader) (*Envelope, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.Wrap(err, "framer: read header")
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length == 0 {
		return nil, merr.WrapErrLinkProtocol("zero length frame")
	}
	if length > f.effectiveMaxSize() {
		return nil, merr.WrapErrLinkProtocol(fmt.Sprintf("frame size %d exceeds max %d", length, f.effectiveMaxSize()))
	}

	env := &Envelope{Flags: header[4]}
	if length > 1 {
		env.Payload = make([]byte, int(length-1))
		if _, err := io.ReadFull(r, env.Payload); err != nil {
			return nil, errors.Wrap(err, "framer: read body")
		}
	}
	return env, nil
}

func (f *LengthPrefixedFramer) effectiveMaxSize() uint32 {
	if f == nil || f.MaxFrameSize == 0 {
		return defaultMaxFrameSize
	}
	return f.MaxFrameSize
}
