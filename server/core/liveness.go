package core

import (
	"errors"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/bans"
	"github.com/automoto/kartsync/shared/lockstep"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
	"github.com/automoto/kartsync/shared/xcmd"
)

// pingJoinGrace keeps fresh joiners out of ping discipline while they
// catch up.
const pingJoinGrace = 30 * time.Second

type pingState struct {
	sums     [netconfig.MaxPlayers]uint32
	samples  uint32
	strikes  [netconfig.MaxPlayers]int
	joinedAt [netconfig.MaxPlayers]time.Time
	last     messages.Ping
}

func (p *pingState) markJoined(slot int, now time.Time) {
	p.joinedAt[slot] = now
	p.strikes[slot] = 0
	p.sums[slot] = 0
}

// Pings returns the last broadcast ping table.
func (s *Server) Pings() messages.Ping { return s.ping.last }

// accumulatePing samples each remote slot's lag once per made tic and
// reports once per second of tics.
func (s *Server) accumulatePing() {
	for slot := 0; slot < netconfig.MaxPlayers; slot++ {
		p := s.game.Player(slot)
		if !p.InGame || p.Bot || p.Node <= 0 {
			continue
		}
		s.ping.sums[slot] += lagMilliseconds(s.maketic, s.nodes[p.Node].ack)
	}
	s.ping.samples++
	if s.ping.samples >= netconfig.TicRate {
		s.pingTick(s.clock.Now())
	}
}

func lagMilliseconds(now, ack tic.Tic) uint32 {
	if now <= ack {
		return 0
	}
	return tic.ToMilliseconds(now - ack)
}

// pingTick broadcasts the averages and disciplines slow nodes.
func (s *Server) pingTick(now time.Time) {
	pkt := messages.Ping{MaxPing: s.cfg.MaxPing}
	var laggers []int
	remote := 0
	for slot := 0; slot < netconfig.MaxPlayers; slot++ {
		p := s.game.Player(slot)
		if !p.InGame || p.Bot {
			continue
		}
		avg := s.ping.sums[slot] / s.ping.samples
		pkt.Pings[slot] = avg
		if p.Node <= 0 {
			continue
		}
		remote++
		if s.cfg.MaxPing == 0 || now.Sub(s.ping.joinedAt[slot]) < pingJoinGrace {
			s.ping.strikes[slot] = 0
			continue
		}
		if avg > s.cfg.MaxPing {
			s.ping.strikes[slot]++
		} else if s.ping.strikes[slot] > 0 {
			s.ping.strikes[slot]--
		}
		if s.ping.strikes[slot] >= s.cfg.PingTimeout && p.Split == 0 {
			laggers = append(laggers, slot)
		}
	}
	s.ping.sums = [netconfig.MaxPlayers]uint32{}
	s.ping.samples = 0
	s.ping.last = pkt
	s.broadcast(pkt, false)

	s.decayResyncs(now)
	if n := s.bans.Prune(now); n > 0 {
		s.log.WithField("count", n).Debug("expired bans pruned")
	}

	if len(laggers) == 0 {
		return
	}
	if len(laggers)*2 > remote {
		s.log.WithFields(logrus.Fields{"laggers": len(laggers), "players": remote}).Warn("most players lag, the server connection may be the problem")
		return
	}
	for _, slot := range laggers {
		id := s.game.Player(slot).Node
		s.log.WithFields(logrus.Fields{"slot": slot, "node": id, "ping": pkt.Pings[slot]}).Info("kicking for high ping")
		s.kickNode(id, netconfig.KickPingHigh, "")
	}
}

// checkTimeouts kicks nodes past their deadline and forgets idle
// connections that never joined.
func (s *Server) checkTimeouts(now time.Time) {
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		n := &s.nodes[id]
		if !n.connected {
			continue
		}
		if !n.inGame {
			if now.After(n.deadline) {
				s.log.WithField("node", id).Debug("closing idle connection")
				s.closeNode(id)
			}
			continue
		}
		if n.leaving {
			continue
		}
		switch {
		case now.After(n.deadline):
			s.log.WithFields(logrus.Fields{"node": id, "ack": n.ack, "maketic": s.maketic}).Warn("node timed out")
			s.kickNode(id, netconfig.KickTimeout, "")
		case !n.resending && s.maketic+1 >= n.ack+netconfig.BackupTics:
			s.log.WithFields(logrus.Fields{"node": id, "ack": n.ack, "maketic": s.maketic}).Warn("node fell out of the backup window")
			s.kickNode(id, netconfig.KickTimeout, "")
		}
	}
}

// kickNode removes every player of node id.
func (s *Server) kickNode(id int, reason netconfig.KickReason, message string) {
	n := &s.nodes[id]
	if n.leaving {
		return
	}
	n.leaving = true
	if len(n.players) == 0 {
		s.closeNode(id)
		return
	}
	s.queueXCmd(netconfig.ServerSlot, xcmd.Kick{Target: uint8(n.players[0]), Reason: reason, Message: message})
}

// ErrKickHost is returned when an operator tries to kick the local player.
var ErrKickHost = errors.New("server: cannot kick the host")

// KickSlot removes the player in slot, and its whole node when slot is the
// node's first player.
func (s *Server) KickSlot(slot int, reason netconfig.KickReason, message string) error {
	if !s.game.InGame(slot) {
		return ErrNoSuchPlayer
	}
	p := s.game.Player(slot)
	if p.Node == 0 && !p.Bot {
		return ErrKickHost
	}
	if !p.Bot && p.Split == 0 {
		s.kickNode(p.Node, reason, message)
		return nil
	}
	s.queueXCmd(netconfig.ServerSlot, xcmd.Kick{Target: uint8(slot), Reason: reason, Message: message})
	return nil
}

func (s *Server) handleQuit(id int) {
	n := &s.nodes[id]
	s.log.WithField("node", id).Info("node quit")
	if !n.inGame {
		s.closeNode(id)
		return
	}
	s.kickNode(id, netconfig.KickPlayerQuit, "")
}

// playerRemoved updates the node table after a kick ran, banning the
// address when the reason asks for it.
func (s *Server) playerRemoved(slot int, p lockstep.Player, reason netconfig.KickReason, message string) {
	s.slotOwner[slot] = noOwner
	s.ping.strikes[slot] = 0
	if p.Bot || p.Node <= 0 {
		return
	}
	n := &s.nodes[p.Node]
	n.players = lo.Without(n.players, slot)

	if p.Split == 0 && n.addr.IsValid() {
		now := s.clock.Now()
		rec := bans.Record{Prefix: bans.HostPrefix(n.addr), Username: p.Name, Reason: message}
		switch {
		case reason.IsBan():
			s.addBan(rec)
		case reason.IsAdminKick() && s.cfg.KickBanDuration > 0:
			rec.Expires = now.Add(s.cfg.KickBanDuration)
			s.addBan(rec)
		}
	}
	if len(n.players) == 0 && n.connected {
		s.closeNode(p.Node)
	}
}

// badCommand kicks the issuer of an extra command that could not be run.
func (s *Server) badCommand(slot int, err error) {
	if slot == netconfig.ServerSlot || !s.game.InGame(slot) {
		return
	}
	if !errors.Is(err, xcmd.ErrUnknownKind) && !errors.Is(err, xcmd.ErrTruncated) && !errors.Is(err, lockstep.ErrNotAuthorized) {
		return
	}
	p := s.game.Player(slot)
	if p.Node <= 0 {
		return
	}
	s.log.WithFields(logrus.Fields{"slot": slot, "node": p.Node}).WithError(err).Warn("kicking issuer of bad extra command")
	s.kickNode(p.Node, netconfig.KickConsistencyFailure, "")
}

// SetPassword replaces the admin password. An empty password disables
// logins.
func (s *Server) SetPassword(password string) {
	s.hasPassword = password != ""
	if s.hasPassword {
		s.adminHash = xcmd.StoredPassword(password)
	}
}

// handleLogin checks a login hash when its tic runs on the server.
func (s *Server) handleLogin(payload []byte, slot int) error {
	l, err := xcmd.DecodeLogin(payload)
	if err != nil {
		return err
	}
	log := s.log.WithField("slot", slot)
	if !s.hasPassword {
		log.Info("login attempt without an admin password set")
		return nil
	}
	if l.Hash != xcmd.SaltedForSlot(s.adminHash, slot) {
		log.Warn("wrong admin password")
		return nil
	}
	if s.game.Player(slot).Admin {
		return nil
	}
	log.Info("admin login accepted")
	s.queueXCmd(netconfig.ServerSlot, xcmd.Verified{Slot: uint8(slot)})
	return nil
}

// RemoveAdmin revokes slot's admin rights.
func (s *Server) RemoveAdmin(slot int) error {
	if !s.game.InGame(slot) {
		return ErrNoSuchPlayer
	}
	s.queueXCmd(netconfig.ServerSlot, xcmd.RemoveAdmin{Slot: uint8(slot)})
	return nil
}
