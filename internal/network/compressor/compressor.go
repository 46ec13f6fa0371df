// Package compressor 提供宿主链路帧载荷的压缩实现。
package compressor

// Compressor 对整段数据做一次性压缩与解压。
//
// dst 是可复用的输出缓冲（长度可为 0），实现可以借用它的容量；返回值才是结果。
type Compressor interface {
	Compress(dst, src []byte) (packet []byte, err error)
	// Decompress 的 src 必须来自同一种实现的 Compress。
	Decompress(dst, src []byte) (plain []byte, err error)
}

// NopCompressor 原样返回输入，codec 未配置压缩器时使用。
type NopCompressor struct{}

var _ Compressor = NopCompressor{}

func (NopCompressor) Compress(_, src []byte) ([]byte, error) { return src, nil }

func (NopCompressor) Decompress(_, src []byte) ([]byte, error) { return src, nil }
