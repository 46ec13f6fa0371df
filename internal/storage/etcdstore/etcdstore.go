// Package etcdstore 提供基于 etcd v3 的 storage.Store 实现。
//
// 键布局（root 默认为 /sessionmanager）：
//
//	<root>/users/<id>               -> User JSON
//	<root>/users-by-steam/<steamid> -> User ID
//	<root>/sessions/<id>            -> Session JSON
//
// 所有写操作都在一个事务中完成，唯一性由 CreateRevision == 0 的比较保证。
package etcdstore

import (
	"context"
	"path"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/json"
	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/etcd"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

const (
	usersDir   = "users"
	steamDir   = "users-by-steam"
	sessionDir = "sessions"
)

// Store 是 etcd 实现的 storage.Store。
type Store struct {
	cli        *clientv3.Client
	root       string
	ownsClient bool
}

var _ storage.Store = (*Store)(nil)

// New 使用已有客户端创建 Store，Close 不会关闭该客户端。
func New(cli *clientv3.Client, root string) *Store {
	return &Store{cli: cli, root: root}
}

// Open 按配置连接 etcd 并确认集群可读。
func Open(ctx context.Context, cfg storage.EtcdConfig) (*Store, error) {
	cli, err := etcd.NewClient(cfg.Endpoints, cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := cli.Get(ctx, cfg.Root, clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		cli.Close()
		return nil, merr.WrapErrIoFailed(cfg.Root, err)
	}
	log.Ctx(ctx).Info("etcd storage opened",
		zap.Strings("endpoints", cfg.Endpoints),
		zap.String("root", cfg.Root))
	return &Store{cli: cli, root: cfg.Root, ownsClient: true}, nil
}

func (s *Store) userKey(id uuid.UUID) string {
	return path.Join(s.root, usersDir, id.String())
}

func (s *Store) steamKey(steamID int64) string {
	return path.Join(s.root, steamDir, strconv.FormatInt(steamID, 10))
}

func (s *Store) sessionKey(id uuid.UUID) string {
	return path.Join(s.root, sessionDir, id.String())
}

func (s *Store) prefix(dir string) string {
	return path.Join(s.root, dir) + "/"
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u == nil {
		return merr.WrapErrParameterMissing("user")
	}
	value, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "marshal user")
	}
	userKey, steamKey := s.userKey(u.ID), s.steamKey(u.SteamID)

	resp, err := s.cli.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(userKey), "=", 0),
		clientv3.Compare(clientv3.CreateRevision(steamKey), "=", 0),
	).Then(
		clientv3.OpPut(userKey, string(value)),
		clientv3.OpPut(steamKey, u.ID.String()),
	).Else(
		clientv3.OpGet(userKey, clientv3.WithCountOnly()),
	).Commit()
	if err != nil {
		return merr.WrapErrIoFailed(userKey, err)
	}
	if resp.Succeeded {
		return nil
	}
	if resp.Responses[0].GetResponseRange().Count > 0 {
		return merr.WrapErrUserExists(u.ID)
	}
	return merr.WrapErrUserSteamIDConflict(u.SteamID)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, _, err := s.getUser(ctx, id)
	return u, err
}

// getUser 同时返回用户键的 ModRevision，供条件写入使用。
func (s *Store) getUser(ctx context.Context, id uuid.UUID) (*model.User, int64, error) {
	key := s.userKey(id)
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, 0, merr.WrapErrIoFailed(key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, merr.WrapErrUserNotFound(id)
	}
	u := &model.User{}
	if err := json.Unmarshal(resp.Kvs[0].Value, u); err != nil {
		return nil, 0, errors.Wrapf(err, "unmarshal user %s", key)
	}
	return u, resp.Kvs[0].ModRevision, nil
}

func (s *Store) GetUserBySteamID(ctx context.Context, steamID int64) (*model.User, error) {
	key := s.steamKey(steamID)
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, merr.WrapErrIoFailed(key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, merr.WrapErrUserNotFound(steamID)
	}
	id, err := uuid.ParseBytes(resp.Kvs[0].Value)
	if err != nil {
		return nil, errors.Wrapf(err, "parse user id under %s", key)
	}
	u, err := s.GetUser(ctx, id)
	if errors.Is(err, merr.ErrUserNotFound) {
		return nil, merr.WrapErrUserNotFound(steamID)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	prefix := s.prefix(usersDir)
	resp, err := s.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, merr.WrapErrIoFailed(prefix, err)
	}
	users := make([]*model.User, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		u := &model.User{}
		if err := json.Unmarshal(kv.Value, u); err != nil {
			return nil, errors.Wrapf(err, "unmarshal user %s", kv.Key)
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].Created.Equal(users[j].Created) {
			return users[i].Created.Before(users[j].Created)
		}
		return users[i].ID.String() < users[j].ID.String()
	})
	return users, nil
}

// UpdateUser 以用户键的 ModRevision 做乐观并发控制；SteamID 变化时在同一事务里迁移索引键。
// 并发修改导致比较失败时重新读取后重试，直到成功、得到确定的错误或 ctx 结束。
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	if u == nil {
		return merr.WrapErrParameterMissing("user")
	}
	value, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "marshal user")
	}
	userKey, newSteamKey := s.userKey(u.ID), s.steamKey(u.SteamID)

	for {
		old, rev, err := s.getUser(ctx, u.ID)
		if err != nil {
			return err
		}
		cmps := []clientv3.Cmp{clientv3.Compare(clientv3.ModRevision(userKey), "=", rev)}
		ops := []clientv3.Op{clientv3.OpPut(userKey, string(value))}
		if old.SteamID != u.SteamID {
			cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(newSteamKey), "=", 0))
			ops = append(ops,
				clientv3.OpDelete(s.steamKey(old.SteamID)),
				clientv3.OpPut(newSteamKey, u.ID.String()),
			)
		}
		resp, err := s.cli.Txn(ctx).If(cmps...).Then(ops...).Else(
			clientv3.OpGet(newSteamKey),
		).Commit()
		if err != nil {
			return merr.WrapErrIoFailed(userKey, err)
		}
		if resp.Succeeded {
			return nil
		}
		kvs := resp.Responses[0].GetResponseRange().Kvs
		if old.SteamID != u.SteamID && len(kvs) > 0 && string(kvs[0].Value) != u.ID.String() {
			return merr.WrapErrUserSteamIDConflict(u.SteamID)
		}
		log.Ctx(ctx).Debug("user changed concurrently, retry update", zap.String("key", userKey))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	userKey := s.userKey(id)
	for {
		old, rev, err := s.getUser(ctx, id)
		if err != nil {
			return err
		}
		steamKey := s.steamKey(old.SteamID)
		resp, err := s.cli.Txn(ctx).If(
			clientv3.Compare(clientv3.ModRevision(userKey), "=", rev),
		).Then(
			clientv3.OpDelete(userKey),
			clientv3.OpDelete(steamKey),
		).Commit()
		if err != nil {
			return merr.WrapErrIoFailed(userKey, err)
		}
		if resp.Succeeded {
			return nil
		}
		log.Ctx(ctx).Debug("user changed concurrently, retry delete", zap.String("key", userKey))
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	key := s.sessionKey(sess.ID)
	value, err := marshalSession(sess)
	if err != nil {
		return err
	}
	resp, err := s.cli.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(key), "=", 0),
	).Then(
		clientv3.OpPut(key, value),
	).Commit()
	if err != nil {
		return merr.WrapErrIoFailed(key, err)
	}
	if !resp.Succeeded {
		return merr.WrapErrSessionExists(sess.ID)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	key := s.sessionKey(id)
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, merr.WrapErrIoFailed(key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, merr.WrapErrSessionNotFound(id)
	}
	return unmarshalSession(resp.Kvs[0].Key, resp.Kvs[0].Value)
}

func (s *Store) ListSessions(ctx context.Context, filter storage.SessionFilter) ([]*model.Session, error) {
	prefix := s.prefix(sessionDir)
	resp, err := s.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, merr.WrapErrIoFailed(prefix, err)
	}
	out := make([]*model.Session, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		sess, err := unmarshalSession(kv.Key, kv.Value)
		if err != nil {
			return nil, err
		}
		if filter.Match(sess) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	key := s.sessionKey(sess.ID)
	value, err := marshalSession(sess)
	if err != nil {
		return err
	}
	resp, err := s.cli.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(key), ">", 0),
	).Then(
		clientv3.OpPut(key, value),
	).Commit()
	if err != nil {
		return merr.WrapErrIoFailed(key, err)
	}
	if !resp.Succeeded {
		return merr.WrapErrSessionNotFound(sess.ID)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	key := s.sessionKey(id)
	resp, err := s.cli.Delete(ctx, key)
	if err != nil {
		return merr.WrapErrIoFailed(key, err)
	}
	if resp.Deleted == 0 {
		return merr.WrapErrSessionNotFound(id)
	}
	return nil
}

func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.cli.Close()
}

// marshalSession 只保存 UserID，不写入展开的 User。
func marshalSession(sess *model.Session) (string, error) {
	cp := *sess
	cp.User = nil
	value, err := json.Marshal(&cp)
	if err != nil {
		return "", errors.Wrap(err, "marshal session")
	}
	return string(value), nil
}

func unmarshalSession(key, value []byte) (*model.Session, error) {
	sess := &model.Session{}
	if err := json.Unmarshal(value, sess); err != nil {
		return nil, errors.Wrapf(err, "unmarshal session %s", key)
	}
	return sess, nil
}
