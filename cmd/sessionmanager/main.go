// Command sessionmanager 连接宿主的会话事件链路，把生命周期通知归档到存储。
//
// 启用 simulate 时进程内启动一个模拟宿主并持续产生玩家活动，不需要真实宿主。
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/sessionmanager-go/application"
	"github.com/lk2023060901/sessionmanager-go/internal/archive"
	"github.com/lk2023060901/sessionmanager-go/internal/eventbus"
	"github.com/lk2023060901/sessionmanager-go/internal/hostlink"
	"github.com/lk2023060901/sessionmanager-go/internal/hostsim"
	"github.com/lk2023060901/sessionmanager-go/internal/rpc"
	"github.com/lk2023060901/sessionmanager-go/internal/sessionmanager"
	"github.com/lk2023060901/sessionmanager-go/internal/storage/factory"
	"github.com/lk2023060901/sessionmanager-go/pkg/log"
	"github.com/lk2023060901/sessionmanager-go/pkg/metrics"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/hardware"
)

const statusInterval = 30 * time.Second

func main() {
	app := application.New()
	if err := app.Run(); err != nil {
		log.Fatal("failed to start application", zap.Error(err))
	}
	defer func() {
		_ = log.Sync()
		log.Cleanup()
	}()

	if _, err := maxprocs.Set(maxprocs.Logger(log.S().Debugf)); err != nil {
		log.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	log.Info("sessionmanager starting", zap.Int("cpus", hardware.GetCPUNum()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app); err != nil {
		log.Error("sessionmanager exited with error", zap.Error(err))
		_ = log.Sync()
		log.Cleanup()
		os.Exit(1)
	}
	log.Info("sessionmanager stopped")
}

// link 是 Manager 所需的两端：事件订阅与远程触发。
type link struct {
	events eventbus.EventManager
	rpc    rpc.Handler
	close  func() error
}

func run(ctx context.Context, app *application.Application) error {
	cfg := app.Config()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		metrics.Register(prometheus.DefaultRegisterer)
		serveMetrics(ctx, g, cfg.Metrics)
	}

	store, err := factory.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close storage", zap.Error(err))
		}
	}()

	var host *hostsim.Host
	if cfg.Simulate.Enabled {
		host, err = hostsim.New(
			hostsim.WithMaxPlayers(cfg.Simulate.MaxPlayers),
			hostsim.WithLogger(app.Logger("hostsim")),
		)
		if err != nil {
			return err
		}
	}

	l, err := openLink(ctx, g, app, host)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.close(); err != nil {
			log.Warn("failed to close host link", zap.Error(err))
		}
	}()

	m := sessionmanager.New(l.events, l.rpc, sessionmanager.WithLogger(app.Logger("sessionmanager")))
	rec := archive.New(store, archive.WithLogger(app.Logger("archive")))
	rec.Attach(m)
	defer rec.Detach()

	if host != nil {
		g.Go(func() error {
			return host.Simulate(ctx, cfg.Simulate.Players, cfg.Simulate.Interval)
		})
	}
	g.Go(func() error {
		reportStatus(ctx, m)
		return nil
	})

	return g.Wait()
}

// openLink 按配置选择链路：
//   - 未启用 simulate：hostlink.Client 拨号真实宿主；
//   - simulate 且 Listen 为空：直接使用模拟宿主的 LocalBus；
//   - simulate 且 Listen 非空：模拟宿主挂载 Gateway，插件经 WebSocket 连接。
func openLink(ctx context.Context, g *errgroup.Group, app *application.Application, host *hostsim.Host) (*link, error) {
	cfg := app.Config()
	if host != nil && cfg.Simulate.Listen == "" {
		return &link{events: host.Bus(), rpc: rpc.NewLoopback(host.Bus()), close: func() error { return nil }}, nil
	}

	hostCfg := cfg.Host
	closeGateway := func() error { return nil }
	if host != nil {
		gw, err := hostlink.NewGateway(ctx, host.Bus(), hostCfg, hostlink.WithGatewayLogger(app.Logger("gateway")))
		if err != nil {
			return nil, err
		}
		lis, err := net.Listen("tcp", cfg.Simulate.Listen)
		if err != nil {
			_ = gw.Close()
			return nil, errors.Wrapf(err, "listen %s", cfg.Simulate.Listen)
		}
		mux := http.NewServeMux()
		mux.Handle(hostCfg.Path, gw)
		serve(ctx, g, &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, lis)

		hostCfg.URL = "ws://" + lis.Addr().String() + hostCfg.Path
		closeGateway = gw.Close
		log.Info("simulated host listening", zap.String("url", hostCfg.URL))
	}

	client, err := hostlink.NewClient(hostCfg, hostlink.WithClientLogger(app.Logger("hostlink")))
	if err != nil {
		return nil, errors.CombineErrors(err, closeGateway())
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.CombineErrors(err, closeGateway())
	}
	return &link{
		events: client,
		rpc:    client,
		close: func() error {
			return errors.CombineErrors(client.Close(), closeGateway())
		},
	}, nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, cfg application.MetricsConfig) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("metrics listening", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
	serve(ctx, g, srv, nil)
}

// serve 在 g 中运行 srv，ctx 结束时优雅关闭。lis 为 nil 时监听 srv.Addr。
func serve(ctx context.Context, g *errgroup.Group, srv *http.Server, lis net.Listener) {
	g.Go(func() error {
		var err error
		if lis != nil {
			err = srv.Serve(lis)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// reportStatus 周期性地向宿主查询在线情况并记录日志。
func reportStatus(ctx context.Context, m *sessionmanager.Manager) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		maxPlayers, err := m.MaxPlayers(ctx)
		if err != nil {
			log.Warn("failed to query max players", zap.Error(err))
			continue
		}
		count, err := m.CurrentSessionsCount(ctx)
		if err != nil {
			log.Warn("failed to query session count", zap.Error(err))
			continue
		}
		log.Info("host status", zap.Uint16("maxPlayers", maxPlayers), zap.Int("sessions", count))
	}
}
