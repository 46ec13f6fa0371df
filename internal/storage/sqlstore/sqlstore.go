// Package sqlstore 提供基于 database/sql 的 storage.Store 实现，支持 sqlite（modernc）与 postgres（lib/pq）。
//
// 时间字段以 UTC 微秒时间戳（BIGINT）保存，两种方言共用同一套查询。
package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Dialect 表示 SQL 方言，取值同时也是 database/sql 的驱动名。
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	usersTable    = "users"
	sessionsTable = "sessions"

	steamIDIndex = "ix_users_steam_id"
)

var (
	userColumns    = []string{"id", "steam_id", "name", "created", "deleted"}
	sessionColumns = []string{"id", "user_id", "ip_address", "created", "connected", "disconnected", "disconnect_reason"}
)

// Store 是 SQL 实现的 storage.Store。
type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

var _ storage.Store = (*Store)(nil)

// New 用已经打开且完成迁移的 db 创建 Store。
func New(db *sql.DB, dialect Dialect) *Store {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	return &Store{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

// Open 打开数据库、设置连接参数并执行迁移。
//
// 说明：
//   - sqlite 的 dsn 为文件路径，连接数限制为 1，并开启 WAL 与 busy_timeout；
//   - postgres 的 dsn 为 lib/pq 连接串。
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, merr.WrapErrParameterMissing("dsn", string(dialect))
	}
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, merr.WrapErrStorageDriverUnsupported(string(dialect))
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialect)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, errors.Wrapf(err, "exec %s", pragma)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, merr.WrapErrIoFailed(string(dialect), err)
	}
	if err := Migrate(db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, dialect), nil
}

// DB 返回底层连接池。
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u == nil {
		return merr.WrapErrParameterMissing("user")
	}
	query, args, err := s.sb.Insert(usersTable).
		Columns(userColumns...).
		Values(u.ID, u.SteamID, u.Name, toMicros(u.Created), nullMicros(u.Deleted)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building insert user")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		switch s.conflictOf(err) {
		case conflictSteamID:
			// 同一用户重复插入时两个约束都冲突，sqlite 可能只报 steam_id。
			exists, existsErr := s.userExists(ctx, u.ID)
			if existsErr != nil {
				return existsErr
			}
			if exists {
				return merr.WrapErrUserExists(u.ID)
			}
			return merr.WrapErrUserSteamIDConflict(u.SteamID)
		case conflictPrimaryKey:
			return merr.WrapErrUserExists(u.ID)
		}
		return merr.WrapErrIoFailed("insert user", err)
	}
	return nil
}

func (s *Store) userExists(ctx context.Context, id uuid.UUID) (bool, error) {
	query, args, err := s.sb.Select("1").From(usersTable).Where(sq.Eq{"id": id}).Limit(1).ToSql()
	if err != nil {
		return false, errors.Wrap(err, "building user exists")
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, merr.WrapErrIoFailed("select user", err)
	}
	return true, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.getUser(ctx, sq.Eq{"id": id})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.WrapErrUserNotFound(id)
	}
	return u, err
}

func (s *Store) GetUserBySteamID(ctx context.Context, steamID int64) (*model.User, error) {
	u, err := s.getUser(ctx, sq.Eq{"steam_id": steamID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.WrapErrUserNotFound(steamID)
	}
	return u, err
}

func (s *Store) getUser(ctx context.Context, where sq.Eq) (*model.User, error) {
	query, args, err := s.sb.Select(userColumns...).From(usersTable).Where(where).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building select user")
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, merr.WrapErrIoFailed("select user", err)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	query, args, err := s.sb.Select(userColumns...).From(usersTable).OrderBy("created", "id").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building list users")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merr.WrapErrIoFailed("list users", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, merr.WrapErrIoFailed("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, merr.WrapErrIoFailed("iterate users", err)
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	if u == nil {
		return merr.WrapErrParameterMissing("user")
	}
	query, args, err := s.sb.Update(usersTable).
		Set("steam_id", u.SteamID).
		Set("name", u.Name).
		Set("deleted", nullMicros(u.Deleted)).
		Where(sq.Eq{"id": u.ID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building update user")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if s.conflictOf(err) == conflictSteamID {
			return merr.WrapErrUserSteamIDConflict(u.SteamID)
		}
		return merr.WrapErrIoFailed("update user", err)
	}
	return affected(res, merr.WrapErrUserNotFound(u.ID))
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	query, args, err := s.sb.Delete(usersTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete user")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return merr.WrapErrIoFailed("delete user", err)
	}
	return affected(res, merr.WrapErrUserNotFound(id))
}

func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	query, args, err := s.sb.Insert(sessionsTable).
		Columns(sessionColumns...).
		Values(sess.ID, sess.UserID, sess.IPAddress, toMicros(sess.Created),
			nullMicros(sess.Connected), nullMicros(sess.Disconnected), sess.DisconnectReason).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building insert session")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if s.conflictOf(err) != conflictNone {
			return merr.WrapErrSessionExists(sess.ID)
		}
		return merr.WrapErrIoFailed("insert session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	query, args, err := s.sb.Select(sessionColumns...).From(sessionsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building select session")
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.WrapErrSessionNotFound(id)
	}
	if err != nil {
		return nil, merr.WrapErrIoFailed("select session", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, filter storage.SessionFilter) ([]*model.Session, error) {
	b := s.sb.Select(sessionColumns...).From(sessionsTable)
	if filter.UserID != uuid.Nil {
		b = b.Where(sq.Eq{"user_id": filter.UserID})
	}
	if filter.ActiveOnly {
		b = b.Where(sq.Eq{"disconnected": nil})
	}
	query, args, err := b.OrderBy("created", "id").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building list sessions")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merr.WrapErrIoFailed("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*model.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, merr.WrapErrIoFailed("scan session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, merr.WrapErrIoFailed("iterate sessions", err)
	}
	return sessions, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *model.Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	query, args, err := s.sb.Update(sessionsTable).
		Set("user_id", sess.UserID).
		Set("ip_address", sess.IPAddress).
		Set("connected", nullMicros(sess.Connected)).
		Set("disconnected", nullMicros(sess.Disconnected)).
		Set("disconnect_reason", sess.DisconnectReason).
		Where(sq.Eq{"id": sess.ID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building update session")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return merr.WrapErrIoFailed("update session", err)
	}
	return affected(res, merr.WrapErrSessionNotFound(sess.ID))
}

func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	query, args, err := s.sb.Delete(sessionsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building delete session")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return merr.WrapErrIoFailed("delete session", err)
	}
	return affected(res, merr.WrapErrSessionNotFound(id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u       model.User
		created int64
		deleted sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.SteamID, &u.Name, &created, &deleted); err != nil {
		return nil, err
	}
	u.Created = fromMicros(created)
	u.Deleted = fromNullMicros(deleted)
	return &u, nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		sess                    model.Session
		created                 int64
		connected, disconnected sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.IPAddress, &created,
		&connected, &disconnected, &sess.DisconnectReason); err != nil {
		return nil, err
	}
	sess.Created = fromMicros(created)
	sess.Connected = fromNullMicros(connected)
	sess.Disconnected = fromNullMicros(disconnected)
	return &sess, nil
}

func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return merr.WrapErrIoFailed("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type conflict int

const (
	conflictNone conflict = iota
	conflictPrimaryKey
	conflictSteamID
)

// conflictOf 识别唯一约束冲突：postgres 依据 SQLSTATE 23505 与约束名，sqlite 依据扩展错误码与报错中的列名。
func (s *Store) conflictOf(err error) conflict {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return conflictNone
		}
		if pqErr.Constraint == steamIDIndex {
			return conflictSteamID
		}
		return conflictPrimaryKey
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return conflictPrimaryKey
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			if strings.Contains(liteErr.Error(), "steam_id") {
				return conflictSteamID
			}
			return conflictPrimaryKey
		}
	}
	return conflictNone
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}
