package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/console"
	"github.com/automoto/kartsync/shared/bans"
	"github.com/automoto/kartsync/shared/netconfig"
)

// RegisterCommands installs the operator commands on c. Handlers touch
// server state, so c must be executed on the goroutine running Update.
func (s *Server) RegisterCommands(c *console.Console) {
	out := s.log.WithField("component", "console")

	kick := func(ban bool) console.Handler {
		return func(args []string) error {
			if len(args) == 0 {
				return console.ErrUsage
			}
			slot, err := s.findPlayer(args[0])
			if err != nil {
				return err
			}
			msg := strings.Join(args[1:], " ")
			reason := netconfig.KickGoAway
			switch {
			case ban && msg != "":
				reason = netconfig.KickCustomBan
			case ban:
				reason = netconfig.KickBanned
			case msg != "":
				reason = netconfig.KickCustomKick
			}
			return s.KickSlot(slot, reason, msg)
		}
	}
	c.Register("kick", "kick <name|slot> [reason]", kick(false))
	c.Register("ban", "ban <name|slot> [reason]", kick(true))

	c.Register("banip", "banip <address[/mask]> [reason]", func(args []string) error {
		if len(args) == 0 {
			return console.ErrUsage
		}
		prefix, err := bans.ParsePrefix(args[0])
		if err != nil {
			return err
		}
		s.BanAddress(prefix, strings.Join(args[1:], " "))
		return nil
	})
	c.Register("clearbans", "clearbans", func([]string) error {
		s.ClearBans()
		out.Info("ban list cleared")
		return nil
	})
	c.Register("showbanlist", "showbanlist", func([]string) error {
		records := s.Bans()
		if len(records) == 0 {
			out.Info("ban list is empty")
			return nil
		}
		now := s.clock.Now()
		for i, r := range records {
			expires := "permanent"
			if !r.Permanent() {
				expires = bans.FormatRemaining(r.Remaining(now))
			}
			out.Info(fmt.Sprintf("%d: %s %q %q (%s)", i+1, r.Prefix, r.Username, r.Reason, expires))
		}
		return nil
	})
	c.Register("reloadbans", "reloadbans", func([]string) error {
		return s.ReloadBans()
	})
	c.Register("nodes", "nodes", func([]string) error {
		for slot := 0; slot < netconfig.MaxPlayers; slot++ {
			p := s.game.Player(slot)
			if !p.InGame {
				continue
			}
			fields := logrus.Fields{"slot": slot, "node": p.Node, "name": p.Name}
			switch {
			case p.Bot:
				fields["bot"] = true
			case p.Node > 0:
				n := s.nodes[p.Node]
				fields["addr"] = n.addr
				fields["ack"] = n.ack
			}
			if p.Admin {
				fields["admin"] = true
			}
			out.WithFields(fields).Info("player")
		}
		return nil
	})
	c.Register("getplayernum", "getplayernum <name>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		slot, err := s.findPlayer(args[0])
		if err != nil {
			return err
		}
		out.Info(fmt.Sprintf("player %s is number %d", s.game.Player(slot).Name, slot))
		return nil
	})
	c.Register("resendgamestate", "resendgamestate <name|slot>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		slot, err := s.findPlayer(args[0])
		if err != nil {
			return err
		}
		return s.ResendGameState(slot)
	})
	c.Register("password", "password <password>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		s.SetPassword(args[0])
		out.Info("admin password set")
		return nil
	})
	c.Register("removeadmin", "removeadmin <name|slot>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		slot, err := s.findPlayer(args[0])
		if err != nil {
			return err
		}
		return s.RemoveAdmin(slot)
	})
	c.Register("addfile", "addfile <name>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		return s.AddFile(args[0])
	})
	c.Register("allowjoin", "allowjoin <on|off>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		switch strings.ToLower(args[0]) {
		case "on", "1", "yes":
			s.cfg.AllowJoin = true
		case "off", "0", "no":
			s.cfg.AllowJoin = false
		default:
			return console.ErrUsage
		}
		return nil
	})
	c.Register("status", "status", func([]string) error {
		out.WithFields(logrus.Fields{
			"tic":     s.game.Tic(),
			"players": s.game.Humans(),
			"slots":   s.numSlots,
			"uptime":  (time.Duration(s.game.Tic()) * netconfig.TicDuration).Round(time.Second),
		}).Info("server status")
		return nil
	})
}
