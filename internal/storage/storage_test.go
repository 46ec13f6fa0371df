package storage_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/internal/storage/memstore"
	"github.com/lk2023060901/sessionmanager-go/pkg/metrics"
)

func TestSessionFilterMatch(t *testing.T) {
	u := model.NewUser(1, "a")
	s := model.NewSession(u, "")

	assert.True(t, storage.SessionFilter{}.Match(s))
	assert.True(t, storage.SessionFilter{UserID: u.ID, ActiveOnly: true}.Match(s))
	assert.False(t, storage.SessionFilter{UserID: uuid.New()}.Match(s))

	s.MarkDisconnected(model.Now(), "disconnected")
	assert.False(t, storage.SessionFilter{ActiveOnly: true}.Match(s))
}

func TestInstrumentCountsOps(t *testing.T) {
	store := storage.Instrument(memstore.New())
	assert.Same(t, store, storage.Instrument(store))

	ok := metrics.StorageOpsTotal.WithLabelValues("get_user", metrics.FailLabel)
	before := testutil.ToFloat64(ok)
	_, err := store.GetUser(t.Context(), uuid.New())
	assert.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(ok))
}
