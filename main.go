package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/config"
	"github.com/automoto/kartsync/console"
	"github.com/automoto/kartsync/master"
	"github.com/automoto/kartsync/network"
	"github.com/automoto/kartsync/network/transport/wstransport"
	"github.com/automoto/kartsync/shared/filetx"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
	"github.com/automoto/kartsync/shared/ticcmd"
)

// throttle holds the accelerator down on every local player.
type throttle struct{}

func (throttle) Cmd(int, tic.Tic) ticcmd.TicCmd {
	return ticcmd.TicCmd{Forward: 50, Buttons: ticcmd.ButtonAccelerate}
}

func main() {
	log := logrus.New()
	config.LoadDotEnv(log)
	cfg := config.LoadClient(log)

	names := flag.String("names", strings.Join(cfg.Names, ","), "Comma separated local player names")
	flag.StringVar(&cfg.Address, "connect", cfg.Address, "Server address, or \"any\" to use the master server listing")
	flag.StringVar(&cfg.MasterURL, "master", cfg.MasterURL, "Master server URL")
	flag.StringVar(&cfg.ContentDir, "content", cfg.ContentDir, "Content directory")
	flag.BoolVar(&cfg.AutoConfirm, "yes", cfg.AutoConfirm, "Accept downloads without asking")
	drive := flag.Bool("drive", false, "Hold the accelerator instead of idling")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	cfg.Names = strings.Split(*names, ",")
	cfg.LocalPlayers = min(len(cfg.Names), netconfig.MaxSplitscreen)

	opts := network.Options{
		Log:     log,
		Content: filetx.DirStore{Dir: cfg.ContentDir},
	}
	prompter := &network.ManualPrompter{}
	if cfg.AutoConfirm {
		opts.Prompter = network.AutoPrompter{Accept: true}
	} else {
		opts.Prompter = prompter
	}
	if *drive {
		opts.Input = throttle{}
	}
	if cfg.MasterURL != "" {
		opts.Discoverer = master.NewClient(cfg.MasterURL, netconfig.VersionString())
	}

	tr := wstransport.NewDialer(log)
	defer tr.Close()
	client := network.NewClient(cfg, tr, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	con := console.New(log)
	client.RegisterCommands(con)
	lines := console.Lines(ctx, os.Stdin, log)

	switch cfg.Address {
	case "":
	case "any":
		if err := con.Execute("connect any"); err != nil {
			log.WithError(err).Error("cannot find a server")
		}
	default:
		client.Connect(cfg.Address)
	}

	if err := run(ctx, client, con, lines, prompter, log); err != nil {
		log.WithError(err).Fatal("client stopped")
	}
}

// run updates the client once per tic and executes console lines between
// updates.
func run(ctx context.Context, client *network.Client, con *console.Console, lines <-chan string, prompter *network.ManualPrompter, log logrus.FieldLogger) error {
	ticker := time.NewTicker(netconfig.TicDuration)
	defer ticker.Stop()

	var (
		lastErr  error
		asked    bool
		lastState network.State
	)
	for {
		select {
		case <-ctx.Done():
			client.Disconnect()
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := con.Execute(line); err != nil {
				log.WithError(err).Warn("console")
			}
		case <-ticker.C:
			if err := client.Update(); err != nil {
				return err
			}
			if s := client.State(); s != lastState {
				log.WithField("state", s).Debug("client state")
				lastState = s
			}
			if req, ok := prompter.Pending(); ok && !asked {
				log.WithFields(logrus.Fields{"server": req.ServerName, "bytes": req.DownloadBytes, "full": req.Full}).Info("type \"confirm yes\" to download and join")
			}
			_, asked = prompter.Pending()
			if err := client.Err(); err != nil && err != lastErr {
				log.WithError(err).Error("disconnected")
			}
			lastErr = client.Err()
		}
	}
}
