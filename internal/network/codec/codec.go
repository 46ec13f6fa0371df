package codec

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/sessionmanager-go/internal/network/compressor"
	"github.com/lk2023060901/sessionmanager-go/internal/network/framer"
	"github.com/lk2023060901/sessionmanager-go/internal/network/serializer"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Codec 抽象了“从链路帧对象到网络帧，以及从网络帧回到链路帧对象”的完整编解码流程。
//
// Pipeline（写出 Encode）：
//
//	msg --> serializer --> [compress?] --> Envelope{Flags+Payload} --> framer.WriteFrame
//
// Pipeline（读入 Decode）：
//
//	framer.ReadFrame --> Envelope{Flags+Payload} --> [decompress?] --> serializer --> msg
type Codec interface {
	// Encode 将对象编码并写入到底层流。
	Encode(w io.Writer, msg any) error

	// Decode 从底层流中读取一帧并解码到 msg（通常为指针）。
	Decode(r io.Reader, msg any) error

	// DecodeRaw 从底层流中读取一帧，返回已完成解压的明文字节，不做反序列化。
	DecodeRaw(r io.Reader) ([]byte, error)
}

// Options 用于构造 Codec 的依赖注入参数。
type Options struct {
	Framer     framer.Framer
	Serializer serializer.Serializer
	Compressor compressor.Compressor // 允许为 nil（内部会用 NopCompressor）

	// EnableCompression 是否启用压缩。
	EnableCompression bool
	// CompressThreshold 载荷达到该字节数才压缩；0 表示总是压缩。
	CompressThreshold int
}

type codec struct {
	framer     framer.Framer
	serializer serializer.Serializer
	compressor compressor.Compressor

	compress  bool
	threshold int
}

var _ Codec = (*codec)(nil)

const flagCompressed uint8 = 1 << 0

// New 创建一个基于给定依赖的 Codec。
func New(opts Options) (Codec, error) {
	if opts.Framer == nil {
		return nil, merr.WrapErrParameterMissing("framer", "codec")
	}
	if opts.Serializer == nil {
		return nil, merr.WrapErrParameterMissing("serializer", "codec")
	}

	c := &codec{
		framer:     opts.Framer,
		serializer: opts.Serializer,
		compress:   opts.EnableCompression,
		threshold:  opts.CompressThreshold,
	}

	if opts.Compressor != nil {
		c.compressor = opts.Compressor
	} else {
		c.compressor = compressor.NopCompressor{}
		c.compress = false
	}

	return c, nil
}

// Encode 实现 Codec.Encode。
func (c *codec) Encode(w io.Writer, msg any) error {
	if w == nil {
		return merr.WrapErrParameterMissing("writer", "codec")
	}
	if msg == nil {
		return merr.WrapErrParameterMissing("msg", "codec")
	}

	body, err := c.serializer.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "codec: marshal")
	}

	env := &framer.Envelope{Payload: body}
	if c.compress && len(body) > 0 && len(body) >= c.threshold {
		compressed, err := c.compressor.Compress(nil, body)
		if err != nil {
			return errors.Wrap(err, "codec: compress")
		}
		env.Payload = compressed
		env.Flags |= flagCompressed
	}

	if err := c.framer.WriteFrame(w, env); err != nil {
		return errors.Wrap(err, "codec: write frame")
	}
	return nil
}

// DecodeRaw 实现 Codec.DecodeRaw。
//
// 说明：
//   - 对端标记为压缩但本端未启用压缩时，返回 ErrLinkProtocol；
//   - 压缩载荷为空同样视为协议错误。
func (c *codec) DecodeRaw(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, merr.WrapErrParameterMissing("reader", "codec")
	}

	env, err := c.framer.ReadFrame(r)
	if err != nil {
		return nil, errors.Wrap(err, "codec: read frame")
	}

	data := env.Payload
	if env.Flags&flagCompressed != 0 {
		if !c.compress {
			return nil, merr.WrapErrLinkProtocol("compressed payload but compression disabled")
		}
		if len(data) == 0 {
			return nil, merr.WrapErrLinkProtocol("compressed payload is empty")
		}
		plain, err := c.compressor.Decompress(nil, data)
		if err != nil {
			return nil, errors.Wrap(err, "codec: decompress")
		}
		data = plain
	}
	return data, nil
}

// Decode 实现 Codec.Decode。
func (c *codec) Decode(r io.Reader, msg any) error {
	data, err := c.DecodeRaw(r)
	if err != nil {
		return err
	}

	if msg != nil && len(data) > 0 {
		if err := c.serializer.Unmarshal(data, msg); err != nil {
			return errors.Wrap(err, "codec: unmarshal")
		}
	}
	return nil
}
