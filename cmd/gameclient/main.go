// Package main connects one client to a game server and logs what it
// sees, for trying out a deployment.
//
//	go run ./cmd/gameclient -host 127.0.0.1 -port 7777 -stun stun.l.google.com:19302
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lcx/gamenet/log"
	"github.com/lcx/gamenet/net"
	"github.com/lcx/gamenet/net/session"
)

func main() {
	cfg := session.DefaultClientCfg()
	flag.StringVar(&cfg.Host, "host", cfg.Host, "服务器地址")
	flag.IntVar(&cfg.Port, "port", 7777, "服务器端口")
	stun := flag.String("stun", "", "STUN 服务器, 空则使用本地地址")
	tick := flag.Duration("tick", 20*time.Millisecond, "主循环间隔")
	flag.Parse()
	if *stun != "" {
		cfg.StunServers = []string{*stun}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "gameclient: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := session.NewGameClient(cfg)
	l := &logListener{client: client, done: stop}
	client.SetListener(l)
	if err := client.Connect(ctx, "", 0); err != nil {
		fmt.Fprintf(os.Stderr, "gameclient: %v\n", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()
	for {
		select {
		case <-ctx.Done():
			client.Disconnect()
			return
		case <-report.C:
			l.report()
		case <-ticker.C:
			client.Update()
		}
	}
}

type logListener struct {
	client *session.GameClient
	done   context.CancelFunc
}

func (l *logListener) report() {
	for _, p := range l.client.Players().Values() {
		log.Info().Int32("playerId", p.PlayerID()).Bool("isMe", p.IsLocalPlayer()).
			Float64("ping", float64(p.MostRecentPingValue())).Msg("player")
	}
}

func (*logListener) DidConnect(channel net.Channel) {
	log.Info().Stringer("channel", channel).Msg("connected")
}

func (l *logListener) ConnectDidTimeout(channel net.Channel, err error) {
	log.Warn().Stringer("channel", channel).Err(err).Msg("connect timed out")
	if channel == net.Reliable {
		l.done()
	}
}

func (l *logListener) DidDisconnect(err error) {
	log.Info().Err(err).Msg("disconnected")
	l.done()
}

func (*logListener) DidReceiveMessage(c *net.MessageContainer) {
	log.Debug().Obj("msg", c).Msg("message")
}

func (*logListener) PlayerDidConnect(p *session.RemotePlayer) {
	log.Info().Int32("playerId", p.PlayerID()).Msg("player joined")
}

func (*logListener) DidIdentifyLocalPlayer(p *session.RemotePlayer) {
	log.Info().Int32("playerId", p.PlayerID()).Msg("we are")
}

func (*logListener) PlayerDidDisconnect(p *session.RemotePlayer) {
	log.Info().Int32("playerId", p.PlayerID()).Msg("player left")
}
