// Package events 定义宿主与插件之间约定的事件名。
//
// 事件名是封闭集合：链路上只能出现这里列出的名字，未知名字在解析时即被拒绝。
package events

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Name 是一个事件名。零值不是合法事件。
type Name uint8

const (
	// 查询：插件 -> 宿主，宿主应答。
	GetMaxPlayers Name = iota + 1
	GetCurrentSessionsCount
	GetCurrentSessions

	// 生命周期通知：宿主 -> 插件。
	ClientConnecting
	UserCreating
	UserCreated
	SessionCreating
	SessionCreated
	ClientConnected
	ClientReconnecting
	ClientReconnected
	ClientDisconnecting
	ClientDisconnected
	ClientInitializing
	ClientInitialized
	SessionTimedOut

	// 命令：插件 -> 宿主，无应答。
	DisconnectPlayer

	lastName = DisconnectPlayer
)

var wireNames = [...]string{
	GetMaxPlayers:           "GetMaxPlayers",
	GetCurrentSessionsCount: "GetCurrentSessionsCount",
	GetCurrentSessions:      "GetCurrentSessions",
	ClientConnecting:        "ClientConnecting",
	UserCreating:            "UserCreating",
	UserCreated:             "UserCreated",
	SessionCreating:         "SessionCreating",
	SessionCreated:          "SessionCreated",
	ClientConnected:         "ClientConnected",
	ClientReconnecting:      "ClientReconnecting",
	ClientReconnected:       "ClientReconnected",
	ClientDisconnecting:     "ClientDisconnecting",
	ClientDisconnected:      "ClientDisconnected",
	ClientInitializing:      "ClientInitializing",
	ClientInitialized:       "ClientInitialized",
	SessionTimedOut:         "SessionTimedOut",
	DisconnectPlayer:        "DisconnectPlayer",
}

var byWireName = lo.Associate(All(), func(n Name) (string, Name) { return n.String(), n })

// String 返回链路上使用的事件名原文。
func (n Name) String() string {
	if !n.Valid() {
		return fmt.Sprintf("Name(%d)", uint8(n))
	}
	return wireNames[n]
}

// Valid 判断 n 是否为已定义的事件。
func (n Name) Valid() bool {
	return n >= GetMaxPlayers && n <= lastName
}

// IsQuery 判断 n 是否为需要宿主应答的查询事件。
func (n Name) IsQuery() bool {
	return n >= GetMaxPlayers && n <= GetCurrentSessions
}

// IsNotification 判断 n 是否为宿主转发给插件的生命周期通知。
func (n Name) IsNotification() bool {
	return n >= ClientConnecting && n <= SessionTimedOut
}

// Parse 把链路上的事件名解析为 Name，大小写敏感。
func Parse(s string) (Name, error) {
	if n, ok := byWireName[s]; ok {
		return n, nil
	}
	return 0, merr.WrapErrEventUnknown(s)
}

// All 返回全部事件名，按定义顺序排列。
func All() []Name {
	out := make([]Name, 0, int(lastName))
	for n := GetMaxPlayers; n <= lastName; n++ {
		out = append(out, n)
	}
	return out
}

// Notifications 返回宿主会转发给插件的 13 个生命周期通知。
func Notifications() []Name {
	return lo.Filter(All(), func(n Name, _ int) bool { return n.IsNotification() })
}

// MarshalText 实现 encoding.TextMarshaler，JSON 中以事件名原文出现。
func (n Name) MarshalText() ([]byte, error) {
	if !n.Valid() {
		return nil, merr.WrapErrEventUnknown(uint8(n))
	}
	return []byte(n.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (n *Name) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
