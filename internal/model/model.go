// Package model 定义宿主会话生命周期中出现的实体。
package model

import (
	"time"

	"github.com/google/uuid"
)

// Client 是宿主眼中一个正在连接或已连接的玩家。
type Client struct {
	Handle   int32  `json:"handle"`
	Name     string `json:"name"`
	SteamID  int64  `json:"steamId"`
	License  string `json:"license,omitempty"`
	EndPoint string `json:"endPoint,omitempty"`
	Ping     int32  `json:"ping"`
}

// User 是一个持久化的用户身份，SteamID 在所有用户之间唯一。
type User struct {
	ID      uuid.UUID  `json:"id"`
	SteamID int64      `json:"steamId"`
	Name    string     `json:"name"`
	Created time.Time  `json:"created"`
	Deleted *time.Time `json:"deleted,omitempty"`
}

// NewUser 创建一个带新 ID 的用户。
func NewUser(steamID int64, name string) *User {
	return &User{
		ID:      uuid.New(),
		SteamID: steamID,
		Name:    name,
		Created: Now(),
	}
}

// Session 是一个用户的一次连接会话。
//
// 说明：
//   - ID 创建后不可变；
//   - User 为可选的展开引用，不作为独立列持久化，持久化时只保存 UserID；
//   - Disconnected 为 nil 表示会话仍然活跃。
type Session struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"userId"`
	User             *User      `json:"user,omitempty"`
	IPAddress        string     `json:"ipAddress"`
	Created          time.Time  `json:"created"`
	Connected        *time.Time `json:"connected,omitempty"`
	Disconnected     *time.Time `json:"disconnected,omitempty"`
	DisconnectReason string     `json:"disconnectReason,omitempty"`
}

// NewSession 为 user 创建一个新会话。user 可以为 nil。
func NewSession(user *User, ip string) *Session {
	s := &Session{
		ID:        uuid.New(),
		User:      user,
		IPAddress: ip,
		Created:   Now(),
	}
	if user != nil {
		s.UserID = user.ID
	}
	return s
}

// Active 判断会话是否尚未断开。
func (s *Session) Active() bool {
	return s.Disconnected == nil
}

// MarkConnected 记录会话进入已连接状态的时间。
func (s *Session) MarkConnected(at time.Time) {
	at = Truncate(at)
	s.Connected = &at
}

// MarkDisconnected 记录会话断开的时间与原因。
func (s *Session) MarkDisconnected(at time.Time, reason string) {
	at = Truncate(at)
	s.Disconnected = &at
	s.DisconnectReason = reason
}

// Now 返回 UTC 当前时间，精度截断到微秒，与各存储后端的时间精度一致。
func Now() time.Time {
	return Truncate(time.Now())
}

// Truncate 把 t 转为 UTC 并截断到微秒。
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
