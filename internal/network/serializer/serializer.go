// Package serializer 定义链路消息体的编解码接口。
package serializer

// Serializer 把消息体转成字节并还原。v 在 Unmarshal 时须为指针。
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
