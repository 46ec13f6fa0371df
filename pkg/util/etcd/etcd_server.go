// Package etcd 提供嵌入式 etcd 服务与客户端构造，供 etcd 存储后端在单机部署与测试中使用。
package etcd

import (
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.etcd.io/etcd/server/v3/etcdserver/api/v3client"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// DefaultStartTimeout 是等待嵌入式 etcd 就绪的默认时长。
const DefaultStartTimeout = 30 * time.Second

// EmbedConfig 描述一个嵌入式 etcd 实例。
//
// 说明：
//   - ConfigPath 非空时先从文件加载配置，其余字段覆盖文件中的同名项；
//   - ClientURL / PeerURL 为空时保留 etcd 默认监听地址；
//   - LogPath 为空时输出到 stderr。
type EmbedConfig struct {
	ConfigPath string `mapstructure:"configPath"`
	DataDir    string `mapstructure:"dataDir"`
	LogPath    string `mapstructure:"logPath"`
	LogLevel   string `mapstructure:"logLevel"`
	ClientURL  string `mapstructure:"clientURL"`
	PeerURL    string `mapstructure:"peerURL"`
}

// 进程级嵌入式 etcd 单例。
var (
	initOnce   sync.Once
	closeOnce  sync.Once
	etcdServer *embed.Etcd
)

// GetEmbedEtcdClient 返回嵌入式 etcd 单例对应的进程内 v3 客户端。
func GetEmbedEtcdClient() (*clientv3.Client, error) {
	if etcdServer == nil {
		return nil, merr.WrapErrServiceNotReady("etcd", "not started")
	}
	return v3client.New(etcdServer.Server), nil
}

// InitEtcdServer 初始化嵌入式 etcd 单例，useEmbedEtcd 为 false 时什么也不做。
func InitEtcdServer(useEmbedEtcd bool, cfg EmbedConfig) error {
	if !useEmbedEtcd {
		return nil
	}
	var initError error
	initOnce.Do(func() {
		e, err := StartEmbed(cfg)
		if err != nil {
			log.Error("failed to init embedded Etcd server", zap.Error(err))
			initError = err
			return
		}
		etcdServer = e
		log.Info("finish init Etcd config", zap.String("path", cfg.ConfigPath), zap.String("data", cfg.DataDir))
	})
	return initError
}

func HasServer() bool {
	return etcdServer != nil
}

// StopEtcdServer 停止嵌入式 etcd 单例。
func StopEtcdServer() {
	if etcdServer != nil {
		closeOnce.Do(func() {
			etcdServer.Close()
		})
	}
}

// StartEmbed 启动一个独立的嵌入式 etcd 实例并等待其就绪，调用方负责 Close。
func StartEmbed(cfg EmbedConfig) (*embed.Etcd, error) {
	ecfg, err := buildConfig(cfg)
	if err != nil {
		return nil, err
	}
	e, err := embed.StartEtcd(ecfg)
	if err != nil {
		return nil, errors.Wrap(err, "start embedded etcd")
	}
	select {
	case <-e.Server.ReadyNotify():
		return e, nil
	case err := <-e.Err():
		e.Close()
		return nil, errors.Wrap(err, "embedded etcd failed before ready")
	case <-time.After(DefaultStartTimeout):
		e.Server.Stop()
		e.Close()
		return nil, merr.WrapErrServiceNotReady("etcd", "start timeout")
	}
}

// StartLocal 在回环地址的随机端口上启动嵌入式 etcd，数据写入 dataDir，日志级别为 error。
func StartLocal(dataDir string) (*embed.Etcd, error) {
	clientURL, err := freeLocalURL()
	if err != nil {
		return nil, err
	}
	peerURL, err := freeLocalURL()
	if err != nil {
		return nil, err
	}
	return StartEmbed(EmbedConfig{
		DataDir:   dataDir,
		LogLevel:  "error",
		ClientURL: clientURL,
		PeerURL:   peerURL,
	})
}

// NewClient 连接外部 etcd 集群。
func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, merr.WrapErrParameterMissing("endpoints", "etcd endpoints are empty")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.L().Named("etcd-client"),
	})
	if err != nil {
		return nil, merr.WrapErrIoFailed(endpoints[0], err)
	}
	return cli, nil
}

func buildConfig(cfg EmbedConfig) (*embed.Config, error) {
	var ecfg *embed.Config
	if len(cfg.ConfigPath) > 0 {
		fromFile, err := embed.ConfigFromFile(cfg.ConfigPath)
		if err != nil {
			return nil, errors.Wrapf(err, "load etcd config %s", cfg.ConfigPath)
		}
		ecfg = fromFile
	} else {
		ecfg = embed.NewConfig()
	}
	ecfg.Dir = cfg.DataDir
	ecfg.LogOutputs = []string{"stderr"}
	if cfg.LogPath != "" {
		ecfg.LogOutputs = []string{cfg.LogPath}
	}
	if cfg.LogLevel != "" {
		ecfg.LogLevel = cfg.LogLevel
	}
	if cfg.ClientURL != "" {
		u, err := url.Parse(cfg.ClientURL)
		if err != nil {
			return nil, merr.WrapErrParameterInvalidMsg("etcd client url %q: %s", cfg.ClientURL, err.Error())
		}
		ecfg.ListenClientUrls = []url.URL{*u}
		ecfg.AdvertiseClientUrls = []url.URL{*u}
	}
	if cfg.PeerURL != "" {
		u, err := url.Parse(cfg.PeerURL)
		if err != nil {
			return nil, merr.WrapErrParameterInvalidMsg("etcd peer url %q: %s", cfg.PeerURL, err.Error())
		}
		ecfg.ListenPeerUrls = []url.URL{*u}
		ecfg.AdvertisePeerUrls = []url.URL{*u}
		ecfg.InitialCluster = ecfg.InitialClusterFromName(ecfg.Name)
	}
	return ecfg, nil
}

func freeLocalURL() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", errors.Wrap(err, "pick free port")
	}
	defer l.Close()
	return "http://" + l.Addr().String(), nil
}
