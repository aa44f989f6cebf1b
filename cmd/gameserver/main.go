// Package main runs a game server: config from yaml, Prometheus metrics
// over HTTP and an optional Consul registration.
//
// 使用方法:
//
//	go run ./cmd/gameserver -config ./conf -metrics :9100
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lcx/gamenet/config"
	"github.com/lcx/gamenet/discovery"
	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/metrics"
	"github.com/lcx/gamenet/net"
	"github.com/lcx/gamenet/net/session"
	"github.com/lcx/gamenet/plugin"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gameserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	confDir := flag.String("config", "./conf", "配置目录")
	env := flag.String("env", "", "配置环境子目录")
	metricsAddr := flag.String("metrics", ":9100", "metrics 监听地址, 空则关闭")
	tick := flag.Duration("tick", 20*time.Millisecond, "主循环间隔")
	flag.Parse()

	cm := config.NewConfigManager()
	cm.SetBasePath(*confDir)
	if *env != "" {
		cm.SetEnvironment(*env)
	}
	defer cm.Close()

	if err := log.InitializeWithConfigManager(cm); err != nil {
		log.Warn().Err(err).Msg("logger config not loaded, using defaults")
	}

	var opts []session.ServerOption
	if err := plugin.InitPlugins(cm); err != nil {
		log.Warn().Err(err).Msg("plugins not loaded")
	} else if r, err := discovery.DefaultRegistrar(); err == nil {
		opts = append(opts, session.WithRegistrar(r))
	}
	defer func() { _ = plugin.DestroyPlugins() }()

	server, err := session.NewGameServerWithConfigManager(cm, opts...)
	if err != nil {
		return err
	}
	server.SetListener(&logListener{})
	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if *metricsAddr != "" {
		hs := &http.Server{Addr: *metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return hs.Shutdown(context.Background())
		})
	}

	// 主循环: 所有玩家状态只在这个 goroutine 上修改
	g.Go(func() error {
		ticker := time.NewTicker(*tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				err := server.Stop()
				server.Update()
				return err
			case <-ticker.C:
				server.Update()
			}
		}
	})

	return g.Wait()
}

type logListener struct{}

func (*logListener) PlayerDidConnect(p *session.Player, channel net.Channel) {
	p.Logger().Info().Stringer("channel", channel).Msg("connected")
}

func (*logListener) PlayerDidDisconnect(p *session.Player) {
	p.Logger().Info().Float64("ping", float64(p.MostRecentPingValue())).Msg("disconnected")
}

func (*logListener) DidReceiveClientMessage(c *net.MessageContainer, p *session.Player) {
	p.Logger().Debug().Obj("msg", c).Msg("client message")
}
