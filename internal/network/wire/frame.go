// Package wire 定义插件与宿主之间链路上传输的帧结构。
//
// 一帧经由 codec 编码为 JSON 载荷，外层再套一层长度前缀帧；
// 每条 WebSocket 二进制消息恰好承载一帧。
package wire

import (
	"fmt"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/internal/json"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Kind 表示帧的类别。
type Kind uint8

const (
	// KindEvent 宿主 -> 插件：一次生命周期事件的触发。
	KindEvent Kind = iota + 1
	// KindRequest 插件 -> 宿主：查询请求，等待同 Seq 的 KindResponse。
	KindRequest
	// KindResponse 宿主 -> 插件：对 KindRequest 的应答。
	KindResponse
	// KindTrigger 插件 -> 宿主：命令触发（例如 DisconnectPlayer），无应答。
	KindTrigger
	// KindCallback 插件 -> 宿主：调用某个 deferral 句柄上的函数。
	KindCallback
)

var kindNames = map[Kind]string{
	KindEvent:    "event",
	KindRequest:  "request",
	KindResponse: "response",
	KindTrigger:  "trigger",
	KindCallback: "callback",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Deferral 回调操作名，对应 Deferrals 的四个函数。
const (
	OpDefer  = "defer"
	OpDone   = "done"
	OpUpdate = "update"
	OpDrop   = "drop"
)

// Frame 是链路上的唯一消息结构。
//
// 字段使用说明：
//   - Seq   ：请求/应答的关联序号；需要确认的 KindEvent 也带 Seq，插件以同 Seq 的 KindResponse 确认；
//   - Name  ：事件名，KindEvent/KindRequest/KindResponse/KindTrigger 使用；
//   - Args  ：按位置编码的参数，每个元素是一段独立的 JSON；
//   - Result/Code/Error：应答结果，Code 非 0 时表示失败（取值见 merr）；
//   - Ref/Op：deferral 句柄引用与操作名，事件帧中 Ref 指明参数携带的句柄，回调帧中二者共同定位一次调用。
type Frame struct {
	Kind   Kind              `json:"kind"`
	Seq    uint64            `json:"seq,omitempty"`
	Name   events.Name       `json:"name,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Code   int32             `json:"code,omitempty"`
	Error  string            `json:"error,omitempty"`
	Ref    uint64            `json:"ref,omitempty"`
	Op     string            `json:"op,omitempty"`
}

// EncodeArgs 把参数逐个编码为 JSON 片段。
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, merr.WrapErrParameterInvalidMsg("encode arg %d: %s", i, err.Error())
		}
		out = append(out, raw)
	}
	return out, nil
}

// Err 把应答帧中的错误码还原为 error；成功时返回 nil。
func (f *Frame) Err() error {
	if f.Code == 0 {
		return nil
	}
	return merr.Error(f.Code, f.Error)
}

// SetErr 把 err 写入应答帧。
func (f *Frame) SetErr(err error) {
	f.Code, f.Error = merr.Status(err)
}

// Validate 检查帧类别与必填字段。
func (f *Frame) Validate() error {
	switch f.Kind {
	case KindEvent, KindTrigger:
		if !f.Name.Valid() {
			return merr.WrapErrLinkProtocol(fmt.Sprintf("%s frame without valid name", f.Kind))
		}
	case KindRequest, KindResponse:
		if f.Seq == 0 {
			return merr.WrapErrLinkProtocol(fmt.Sprintf("%s frame without seq", f.Kind))
		}
	case KindCallback:
		if f.Ref == 0 || f.Op == "" {
			return merr.WrapErrLinkProtocol("callback frame without ref/op")
		}
	default:
		return merr.WrapErrLinkProtocol(fmt.Sprintf("unknown frame %s", f.Kind))
	}
	return nil
}

// Raw 是一段尚未解码的参数或结果，实现 eventbus.Decoder，由接收方按需要的类型解码。
type Raw json.RawMessage

// Decode 把 Raw 解码到 v。
func (r Raw) Decode(v any) error {
	if len(r) == 0 {
		return nil
	}
	return json.Unmarshal(r, v)
}

// RawArgs 把帧参数包装为 Raw 切片，供事件总线使用。
func RawArgs(args []json.RawMessage) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		out[i] = Raw(arg)
	}
	return out
}

// DeferralRef 是 deferral 句柄在链路上的表示。
type DeferralRef struct {
	Ref uint64 `json:"ref"`
}
