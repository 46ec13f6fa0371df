package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

func TestOpenMemory(t *testing.T) {
	store, err := Open(context.Background(), storage.DefaultConfig())
	require.NoError(t, err)
	defer store.Close()

	u := model.NewUser(76561198000000200, "memory")
	require.NoError(t, store.CreateUser(context.Background(), u))
	got, err := store.GetUserBySteamID(context.Background(), u.SteamID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestOpenSQLite(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DriverSQLite
	cfg.DSN = filepath.Join(t.TempDir(), "sessions.db")

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	sess := model.NewSession(model.NewUser(76561198000000201, "sqlite"), "10.0.0.201")
	require.NoError(t, store.CreateSession(context.Background(), sess))
	sessions, err := store.ListSessions(context.Background(), storage.SessionFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestOpenConfigErrorsAreNotRetried(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.Driver = "mongo"
	start := time.Now()
	_, err := Open(context.Background(), cfg)
	assert.ErrorIs(t, err, merr.ErrStorageDriverUnsupported)
	assert.Less(t, time.Since(start), time.Second)

	cfg.Driver = storage.DriverSQLite
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	cfg.Driver = storage.DriverEtcd
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}
