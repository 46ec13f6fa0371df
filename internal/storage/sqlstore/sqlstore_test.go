package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/internal/storage/storagetest"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

type SQLiteSuite struct {
	storagetest.RepositorySuite
}

func (s *SQLiteSuite) TestMigrateIsIdempotent() {
	store := s.Store.(*Store)
	s.NoError(Migrate(store.DB(), DialectSQLite))

	var name string
	row := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?", steamIDIndex)
	s.Require().NoError(row.Scan(&name))
	s.Equal(steamIDIndex, name)
}

func (s *SQLiteSuite) TestDuplicateInsertReportsExisting() {
	ctx := context.Background()
	u := model.NewUser(76561198000000020, "dave")
	s.Require().NoError(s.Store.CreateUser(ctx, u))

	err := s.Store.CreateUser(ctx, u)
	s.ErrorIs(err, merr.ErrUserExists)
	s.NotErrorIs(err, merr.ErrUserSteamIDConflict)

	renamed := *u
	renamed.SteamID = 76561198000000021
	s.ErrorIs(s.Store.CreateUser(ctx, &renamed), merr.ErrUserExists)

	other := model.NewUser(u.SteamID, "eve")
	s.ErrorIs(s.Store.CreateUser(ctx, other), merr.ErrUserSteamIDConflict)
}

func TestSQLiteStore(t *testing.T) {
	s := new(SQLiteSuite)
	s.Open = func() storage.Store {
		dsn := filepath.Join(t.TempDir(), "sessions.db")
		store, err := Open(context.Background(), DialectSQLite, dsn)
		require.NoError(t, err)
		return store
	}
	suite.Run(t, s)
}

func TestOpenValidates(t *testing.T) {
	_, err := Open(context.Background(), DialectSQLite, "")
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
	_, err = Open(context.Background(), Dialect("mysql"), "x")
	assert.ErrorIs(t, err, merr.ErrStorageDriverUnsupported)
}

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, DialectPostgres), mock
}

func TestPostgresCreateUser(t *testing.T) {
	store, mock := newPostgresMock(t)
	u := model.NewUser(76561198000000001, "alice")

	mock.ExpectExec(`INSERT INTO users \(id,steam_id,name,created,deleted\) VALUES \(\$1,\$2,\$3,\$4,\$5\)`).
		WithArgs(u.ID, u.SteamID, u.Name, u.Created.UnixMicro(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateUser(context.Background(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateUserConflicts(t *testing.T) {
	store, mock := newPostgresMock(t)
	u := model.NewUser(76561198000000001, "alice")

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: steamIDIndex})
	mock.ExpectQuery(`SELECT 1 FROM users WHERE id = \$1 LIMIT 1`).
		WithArgs(u.ID).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: steamIDIndex})
	mock.ExpectQuery(`SELECT 1 FROM users WHERE id = \$1 LIMIT 1`).
		WithArgs(u.ID).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_pkey"})
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(errors.New("connection refused"))

	assert.ErrorIs(t, store.CreateUser(context.Background(), u), merr.ErrUserSteamIDConflict)
	assert.ErrorIs(t, store.CreateUser(context.Background(), u), merr.ErrUserExists)
	assert.ErrorIs(t, store.CreateUser(context.Background(), u), merr.ErrUserExists)
	assert.ErrorIs(t, store.CreateUser(context.Background(), u), merr.ErrIoFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateUser(t *testing.T) {
	store, mock := newPostgresMock(t)
	u := model.NewUser(76561198000000001, "alice")

	mock.ExpectExec(`UPDATE users SET steam_id = \$1, name = \$2, deleted = \$3 WHERE id = \$4`).
		WithArgs(u.SteamID, u.Name, nil, u.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: steamIDIndex})

	assert.ErrorIs(t, store.UpdateUser(context.Background(), u), merr.ErrUserNotFound)
	assert.ErrorIs(t, store.UpdateUser(context.Background(), u), merr.ErrUserSteamIDConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetUserBySteamID(t *testing.T) {
	store, mock := newPostgresMock(t)
	u := model.NewUser(76561198000000001, "alice")

	rows := sqlmock.NewRows(userColumns).
		AddRow(u.ID.String(), u.SteamID, u.Name, u.Created.UnixMicro(), nil)
	mock.ExpectQuery(`SELECT id, steam_id, name, created, deleted FROM users WHERE steam_id = \$1`).
		WithArgs(u.SteamID).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT (.+) FROM users").
		WillReturnRows(sqlmock.NewRows(userColumns))

	got, err := store.GetUserBySteamID(context.Background(), u.SteamID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, u.Created.Equal(got.Created))
	assert.Nil(t, got.Deleted)

	_, err = store.GetUserBySteamID(context.Background(), 1)
	assert.ErrorIs(t, err, merr.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListActiveSessions(t *testing.T) {
	store, mock := newPostgresMock(t)
	userID := uuid.New()
	sess := model.NewSession(nil, "10.0.0.1")
	sess.UserID = userID

	rows := sqlmock.NewRows(sessionColumns).
		AddRow(sess.ID.String(), userID.String(), sess.IPAddress, sess.Created.UnixMicro(), nil, nil, "")
	mock.ExpectQuery(`SELECT (.+) FROM sessions WHERE user_id = \$1 AND disconnected IS NULL ORDER BY created, id`).
		WithArgs(userID).
		WillReturnRows(rows)

	got, err := store.ListSessions(context.Background(), storage.SessionFilter{UserID: userID, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sess.ID, got[0].ID)
	assert.True(t, got[0].Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteSessionNotFound(t *testing.T) {
	store, mock := newPostgresMock(t)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM sessions WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeleteSession(context.Background(), id), merr.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
