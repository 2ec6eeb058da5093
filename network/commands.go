package network

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/console"
	"github.com/automoto/kartsync/shared/xcmd"
)

// discoverTimeout bounds the server list query of connect any.
const discoverTimeout = 10 * time.Second

// RegisterCommands installs the client commands on con. Handlers touch
// client state, so con must be executed on the goroutine running Update.
func (c *Client) RegisterCommands(con *console.Console) {
	out := c.log.WithField("component", "console")

	con.Register("connect", "connect <address> [port] | connect any | connect node <id>", func(args []string) error {
		switch {
		case len(args) == 1 && args[0] == "any":
			ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
			defer cancel()
			return c.ConnectAny(ctx)
		case len(args) == 2 && args[0] == "node":
			node, err := strconv.Atoi(args[1])
			if err != nil || node <= 0 {
				return console.ErrUsage
			}
			c.ConnectNode(node)
			return nil
		case len(args) == 1:
			c.Connect(args[0])
			return nil
		case len(args) == 2:
			if _, err := strconv.ParseUint(args[1], 10, 16); err != nil {
				return console.ErrUsage
			}
			c.Connect(net.JoinHostPort(args[0], args[1]))
			return nil
		}
		return console.ErrUsage
	})
	con.Register("disconnect", "disconnect", func([]string) error {
		c.Disconnect()
		return nil
	})
	con.Register("login", "login <password>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		return c.Login(args[0])
	})
	con.Register("name", "name <new name>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		return c.SendCommand(0, xcmd.NameChange{Name: args[0]})
	})
	con.Register("status", "status", func([]string) error {
		fields := logrus.Fields{"state": c.state.String()}
		if c.game != nil {
			fields["tic"] = c.game.Tic()
			fields["needed"] = c.neededTic
			fields["slots"] = c.slots
			if len(c.slots) > 0 && c.slots[0] >= 0 {
				fields["ping"] = c.pings.Pings[c.slots[0]]
			}
		}
		if err := c.Err(); err != nil {
			fields["error"] = err.Error()
		}
		out.WithFields(fields).Info("client status")
		return nil
	})
	if p, ok := c.opts.Prompter.(*ManualPrompter); ok {
		con.Register("confirm", "confirm <yes|no>", func(args []string) error {
			if len(args) != 1 {
				return console.ErrUsage
			}
			switch args[0] {
			case "yes", "y":
				p.Decide(true)
			case "no", "n":
				p.Decide(false)
			default:
				return console.ErrUsage
			}
			return nil
		})
	}
}
