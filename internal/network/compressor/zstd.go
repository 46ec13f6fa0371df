package compressor

import (
	"github.com/klauspost/compress/zstd"

	"github.com/lk2023060901/sessionmanager-go/pkg/util/hardware"
)

// defaultMaxDecodedSize 与 framer 的默认最大帧一致。
const defaultMaxDecodedSize = 16 << 20

var _ Compressor = (*ZstdCompressor)(nil)

// ZstdCompressor 用 klauspost/compress/zstd 压缩帧载荷。
//
// 说明：
//   - EncodeAll/DecodeAll 可并发调用，链路读写协程共用一个实例；
//   - 阈值判断在 codec 中完成，这里对输入总是压缩；
//   - 解压结果超过 maxDecoded 时报错，防止压缩炸弹撑爆内存。
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

type zstdConfig struct {
	concurrency int
	level       zstd.EncoderLevel
	maxDecoded  uint64
}

// ZstdOption 调整 ZstdCompressor 的参数。
type ZstdOption func(*zstdConfig)

// WithConcurrency 指定编码并发度，<= 0 时使用 CPU 核数。
func WithConcurrency(n int) ZstdOption {
	return func(c *zstdConfig) { c.concurrency = n }
}

// WithLevel 指定压缩级别。
func WithLevel(level zstd.EncoderLevel) ZstdOption {
	return func(c *zstdConfig) { c.level = level }
}

// WithMaxDecodedSize 限制单次解压的输出大小，0 表示使用默认值。
func WithMaxDecodedSize(n uint32) ZstdOption {
	return func(c *zstdConfig) {
		if n > 0 {
			c.maxDecoded = uint64(n)
		}
	}
}

// NewZstdCompressor 创建 ZstdCompressor。
func NewZstdCompressor(opts ...ZstdOption) (*ZstdCompressor, error) {
	cfg := zstdConfig{level: zstd.SpeedDefault, maxDecoded: defaultMaxDecodedSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = hardware.GetCPUNum()
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderLevel(cfg.level),
		zstd.WithEncoderConcurrency(cfg.concurrency),
	)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(cfg.maxDecoded),
		zstd.WithDecoderConcurrency(cfg.concurrency),
	)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &ZstdCompressor{enc: enc, dec: dec}, nil
}

// NewZstdCompressorWithConcurrency 等价于 NewZstdCompressor(WithConcurrency(concurrency))。
func NewZstdCompressorWithConcurrency(concurrency int) (*ZstdCompressor, error) {
	return NewZstdCompressor(WithConcurrency(concurrency))
}

func (c *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	if c == nil || c.enc == nil {
		return nil, zstd.ErrEncoderClosed
	}
	return c.enc.EncodeAll(src, dst[:0]), nil
}

func (c *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	if c == nil || c.dec == nil {
		return nil, zstd.ErrDecoderClosed
	}
	return c.dec.DecodeAll(src, dst[:0])
}

// Close 释放编解码器，之后的调用返回 ErrEncoderClosed/ErrDecoderClosed。可重复调用。
func (c *ZstdCompressor) Close() {
	if c == nil {
		return
	}
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}
