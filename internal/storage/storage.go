// Package storage 定义 Session 与 User 的持久化契约。
//
// 唯一性约束：
//   - User.ID 与 Session.ID 唯一，重复创建返回 ErrUserExists / ErrSessionExists；
//   - User.SteamID 在所有用户之间唯一，冲突返回 ErrUserSteamIDConflict。
//
// 找不到记录时返回 ErrUserNotFound / ErrSessionNotFound。
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/etcd"
)

// UserRepository 提供 User 的增删改查。
type UserRepository interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetUserBySteamID(ctx context.Context, steamID int64) (*model.User, error)
	// ListUsers 按创建时间升序返回全部用户。
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// SessionRepository 提供 Session 的增删改查。
//
// 持久化时只保存 Session.UserID，读取结果中的 Session.User 恒为 nil。
type SessionRepository interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	// ListSessions 按创建时间升序返回满足 filter 的会话。
	ListSessions(ctx context.Context, filter SessionFilter) ([]*model.Session, error)
	UpdateSession(ctx context.Context, s *model.Session) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// Store 同时提供两类仓库。
type Store interface {
	UserRepository
	SessionRepository
	Close() error
}

// SessionFilter 是 ListSessions 的过滤条件，零值表示不过滤。
type SessionFilter struct {
	// UserID 非 uuid.Nil 时只返回该用户的会话。
	UserID uuid.UUID
	// ActiveOnly 为 true 时只返回尚未断开的会话。
	ActiveOnly bool
}

// Match 判断 s 是否满足过滤条件。
func (f SessionFilter) Match(s *model.Session) bool {
	if f.UserID != uuid.Nil && s.UserID != f.UserID {
		return false
	}
	if f.ActiveOnly && !s.Active() {
		return false
	}
	return true
}

// Driver 表示存储后端。
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverEtcd     Driver = "etcd"
)

// Config 是存储层配置。
type Config struct {
	Driver Driver `mapstructure:"driver"`
	// DSN 为 sqlite 文件路径或 postgres 连接串。
	DSN  string     `mapstructure:"dsn"`
	Etcd EtcdConfig `mapstructure:"etcd"`
	// OpenRetry 为打开存储时的最大尝试次数，0 表示使用默认值。
	OpenRetry uint `mapstructure:"openRetry"`
}

// EtcdConfig 是 etcd 后端配置。UseEmbed 为 true 时在进程内启动 etcd，忽略 Endpoints。
type EtcdConfig struct {
	Endpoints   []string         `mapstructure:"endpoints"`
	Root        string           `mapstructure:"root"`
	DialTimeout time.Duration    `mapstructure:"dialTimeout"`
	UseEmbed    bool             `mapstructure:"useEmbed"`
	Embed       etcd.EmbedConfig `mapstructure:"embed"`
}

// DefaultConfig 返回使用内存后端的默认配置。
func DefaultConfig() Config {
	return Config{
		Driver:    DriverMemory,
		OpenRetry: 5,
		Etcd: EtcdConfig{
			Root:        "/sessionmanager",
			DialTimeout: 5 * time.Second,
		},
	}
}
