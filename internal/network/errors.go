package network

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageHandshake Stage = "handshake"
	StageRecvRaw   Stage = "recv_raw" // 收到底层原始字节（WebSocket 帧）
	StageDecode    Stage = "decode"   // 原始字节 -> wire.Frame
	StageDispatch  Stage = "dispatch" // wire.Frame -> 业务处理
	StageEncode    Stage = "encode"   // wire.Frame -> 字节
	StageSend      Stage = "send"     // 底层发送完成
)

// String 返回阶段名称，用于日志字段。
func (s Stage) String() string { return string(s) }
