package memstore

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/internal/storage/storagetest"
)

type MemStoreSuite struct {
	storagetest.RepositorySuite
}

func TestMemStore(t *testing.T) {
	s := new(MemStoreSuite)
	s.Open = func() storage.Store { return New() }
	suite.Run(t, s)
}
