package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/netconfig"
)

// GameLoop drives a Server at a fixed rate and runs queued functions on
// the same goroutine, so the server's state never needs locking.
type GameLoop struct {
	server   *Server
	tickRate int
	commands chan func()
	log      logrus.FieldLogger
}

func NewGameLoop(server *Server, tickRate int) *GameLoop {
	if tickRate <= 0 {
		tickRate = netconfig.TicRate
	}
	return &GameLoop{
		server:   server,
		tickRate: tickRate,
		commands: make(chan func(), 16),
		log:      server.log.WithField("component", "loop"),
	}
}

// Do queues fn to run between two updates.
func (g *GameLoop) Do(fn func()) {
	g.commands <- fn
}

// Run updates the server until ctx ends or an update fails.
func (g *GameLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(g.tickRate))
	defer ticker.Stop()

	g.log.WithField("rate", g.tickRate).Info("game loop started")

	for {
		select {
		case <-ctx.Done():
			g.server.Shutdown()
			g.log.Info("game loop stopped")
			return nil
		case fn := <-g.commands:
			fn()
		case <-ticker.C:
			if err := g.server.Update(); err != nil {
				g.server.Shutdown()
				return err
			}
		}
	}
}
