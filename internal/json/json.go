// Package json 是基于 bytedance/sonic 的 JSON 门面，API 与 encoding/json 保持一致。
package json

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

var (
	// api 使用与标准库完全兼容的配置（HTML 转义、map key 排序、校验 RawMessage）。
	api = sonic.ConfigStd

	Marshal       = api.Marshal
	Unmarshal     = api.Unmarshal
	MarshalIndent = api.MarshalIndent
	Valid         = api.Valid
)

type (
	// RawMessage 延迟解码的 JSON 片段，sonic 对其行为与标准库一致。
	RawMessage = json.RawMessage
	Marshaler  = json.Marshaler
	// Unmarshaler 自定义解码接口。
	Unmarshaler = json.Unmarshaler
)
