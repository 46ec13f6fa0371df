package application

import (
	"time"

	"github.com/lk2023060901/sessionmanager-go/internal/hostlink"
	"github.com/lk2023060901/sessionmanager-go/internal/storage"
)

// Config 是进程的完整配置。
//
// 示例：
//
//	host:
//	  url: ws://127.0.0.1:30120/sessionmanager
//	  requestTimeout: 5s
//	storage:
//	  driver: sqlite
//	  dsn: ./sessionmanager.db
//	metrics:
//	  enabled: true
//	  addr: 127.0.0.1:9464
//	simulate:
//	  enabled: true
//	  listen: 127.0.0.1:30120
type Config struct {
	Host     hostlink.Config `mapstructure:"host"`
	Storage  storage.Config  `mapstructure:"storage"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Simulate SimulateConfig  `mapstructure:"simulate"`
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// SimulateConfig 控制 simulate 模式：进程内启动一个模拟宿主并持续产生玩家连接。
//
// 说明：
//   - Listen 为空时插件与模拟宿主经 LocalBus 直接相连；
//   - Listen 非空时模拟宿主在该地址挂载 hostlink.Gateway，插件经 WebSocket 连接。
type SimulateConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Listen     string        `mapstructure:"listen"`
	MaxPlayers uint16        `mapstructure:"maxPlayers"`
	Players    int           `mapstructure:"players"`
	Interval   time.Duration `mapstructure:"interval"`
}

// defaults 以扁平 key 声明全部配置项的缺省值，使环境变量覆盖对每个 key 生效。
func defaults() map[string]any {
	host := hostlink.DefaultConfig()
	st := storage.DefaultConfig()
	return map[string]any{
		"host.url":                    host.URL,
		"host.path":                   host.Path,
		"host.requestTimeout":         host.RequestTimeout,
		"host.ackTimeout":             host.AckTimeout,
		"host.dialMaxElapsed":         host.DialMaxElapsed,
		"host.compression":            host.Compression,
		"host.compressThreshold":      host.CompressThreshold,
		"host.maxFrameSize":           host.MaxFrameSize,
		"host.workers":                host.Workers,
		"host.session.sendQueueSize":  host.Session.SendQueueSize,
		"host.session.readTimeout":    host.Session.ReadTimeout,
		"host.session.writeTimeout":   host.Session.WriteTimeout,
		"host.session.maxMessageSize": host.Session.MaxMessageSize,

		"storage.driver":           string(st.Driver),
		"storage.dsn":              st.DSN,
		"storage.openRetry":        st.OpenRetry,
		"storage.etcd.endpoints":   st.Etcd.Endpoints,
		"storage.etcd.root":        st.Etcd.Root,
		"storage.etcd.dialTimeout": st.Etcd.DialTimeout,
		"storage.etcd.useEmbed":    st.Etcd.UseEmbed,

		"storage.etcd.embed.dataDir":  "./etcd-data",
		"storage.etcd.embed.logLevel": "warn",

		"metrics.enabled": false,
		"metrics.addr":    "127.0.0.1:9464",
		"metrics.path":    "/metrics",

		"simulate.enabled":    false,
		"simulate.listen":     "",
		"simulate.maxPlayers": 32,
		"simulate.players":    16,
		"simulate.interval":   time.Second,
	}
}
