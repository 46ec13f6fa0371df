// Package factory 按配置选择并打开存储后端。
package factory

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/storage"
	"github.com/lk2023060901/sessionmanager-go/internal/storage/etcdstore"
	"github.com/lk2023060901/sessionmanager-go/internal/storage/memstore"
	"github.com/lk2023060901/sessionmanager-go/internal/storage/sqlstore"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/etcd"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/retry"
)

const defaultOpenRetry = 5

// Open 打开 cfg 指定的存储后端，并包上按操作计数的指标。
//
// 说明：
//   - 只有 IO 失败会重试，最多 cfg.OpenRetry 次；
//   - 参数缺失、驱动不支持等配置错误立即返回。
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	attempts := cfg.OpenRetry
	if attempts == 0 {
		attempts = defaultOpenRetry
	}
	logger := log.Ctx(ctx).With(zap.String("driver", string(cfg.Driver)))

	var store storage.Store
	err := retry.Do(ctx, func() error {
		s, err := open(ctx, cfg)
		if err != nil {
			return err
		}
		store = s
		return nil
	}, retry.Attempts(attempts), retry.RetryErr(func(err error) bool {
		return errors.Is(err, merr.ErrIoFailed)
	}))
	if err != nil {
		logger.Warn("failed to open storage", zap.Error(err))
		return nil, err
	}
	logger.Info("storage opened")
	return storage.Instrument(store), nil
}

func open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	switch cfg.Driver {
	case storage.DriverMemory, "":
		return memstore.New(), nil
	case storage.DriverSQLite:
		return sqlstore.Open(ctx, sqlstore.DialectSQLite, cfg.DSN)
	case storage.DriverPostgres:
		return sqlstore.Open(ctx, sqlstore.DialectPostgres, cfg.DSN)
	case storage.DriverEtcd:
		return openEtcd(ctx, cfg.Etcd)
	default:
		return nil, merr.WrapErrStorageDriverUnsupported(string(cfg.Driver))
	}
}

func openEtcd(ctx context.Context, cfg storage.EtcdConfig) (storage.Store, error) {
	if !cfg.UseEmbed {
		return etcdstore.Open(ctx, cfg)
	}
	if err := etcd.InitEtcdServer(true, cfg.Embed); err != nil {
		return nil, err
	}
	cli, err := etcd.GetEmbedEtcdClient()
	if err != nil {
		return nil, err
	}
	return &embedStore{Store: etcdstore.New(cli, cfg.Root), close: func() error {
		err := cli.Close()
		etcd.StopEtcdServer()
		return err
	}}, nil
}

// embedStore 关闭时一并停止进程内 etcd。
type embedStore struct {
	*etcdstore.Store
	close func() error
}

func (s *embedStore) Close() error {
	return s.close()
}
