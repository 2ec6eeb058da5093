package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/config"
	"github.com/automoto/kartsync/console"
	"github.com/automoto/kartsync/network/transport/wstransport"
	"github.com/automoto/kartsync/server/core"
	"github.com/automoto/kartsync/shared/bans"
	"github.com/automoto/kartsync/shared/filetx"
	"github.com/automoto/kartsync/shared/netconfig"
)

func main() {
	log := logrus.New()
	config.LoadDotEnv(log)
	cfg := config.LoadServer(log)

	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "Server display name")
	flag.BoolVar(&cfg.Dedicated, "dedicated", cfg.Dedicated, "Run without a local player")
	flag.IntVar(&cfg.MaxPlayers, "maxplayers", cfg.MaxPlayers, "Maximum number of players")
	flag.StringVar(&cfg.AdminPassword, "password", cfg.AdminPassword, "Admin password")
	flag.IntVar(&cfg.Bots, "bots", cfg.Bots, "Number of bots to seat at start")
	flag.StringVar(&cfg.MasterURL, "master", cfg.MasterURL, "Master server URL (empty = unlisted)")
	flag.StringVar(&cfg.PublicAddress, "public", cfg.PublicAddress, "Address advertised to the master server")
	flag.StringVar(&cfg.BanStore, "banstore", cfg.BanStore, "Ban list storage: file or gdata")
	files := flag.String("files", strings.Join(cfg.Files, ","), "Comma separated content files clients must have")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	cfg.Files = nil
	for _, f := range strings.Split(*files, ",") {
		if f = strings.TrimSpace(f); f != "" {
			cfg.Files = append(cfg.Files, f)
		}
	}

	store, err := banStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("cannot open ban storage")
	}

	tr, err := wstransport.Listen(cfg.Listen, log)
	if err != nil {
		log.WithError(err).Fatal("cannot listen")
	}
	defer tr.Close()

	server, err := core.NewServer(cfg, tr, core.Options{
		Log:      log,
		Content:  filetx.DirStore{Dir: cfg.ContentDir},
		BanStore: store,
	})
	if err != nil {
		log.WithError(err).Fatal("cannot start server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := core.NewGameLoop(server, netconfig.TicRate)

	con := console.New(log)
	server.RegisterCommands(con)
	go func() {
		for line := range console.Lines(ctx, os.Stdin, log) {
			loop.Do(func() {
				if err := con.Execute(line); err != nil {
					log.WithError(err).Warn("console")
				}
			})
		}
	}()

	if cfg.MasterURL != "" {
		address := cfg.PublicAddress
		if address == "" {
			address = tr.ListenAddr()
		}
		reg := core.NewRegistration(cfg.MasterURL, cfg.Name, address, netconfig.VersionString(), cfg.Region, cfg.MaxPlayers, server.PlayerCount, log)
		go reg.Run(ctx)
	}

	log.WithFields(logrus.Fields{
		"name":       cfg.Name,
		"listen":     tr.ListenAddr(),
		"dedicated":  cfg.Dedicated,
		"maxplayers": cfg.MaxPlayers,
		"version":    netconfig.VersionString(),
	}).Info("server starting")

	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, core.ErrPacketOverflow) {
			log.WithError(err).Fatal("tic batch does not fit in a packet")
		}
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server stopped")
}

func banStore(cfg config.Server) (bans.Store, error) {
	switch cfg.BanStore {
	case "gdata":
		return bans.OpenGData(strings.ToLower(netconfig.Application))
	case "", "file":
		if cfg.BanFile == "" {
			return nil, nil
		}
		return bans.FileStore{Path: cfg.BanFile}, nil
	}
	return nil, errors.New("unknown ban store " + cfg.BanStore)
}
