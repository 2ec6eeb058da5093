package core

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/bans"
	"github.com/automoto/kartsync/shared/lockstep"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
)

// Refusal reasons sent back to joining clients.
const (
	ReasonPacketVersion = "Incompatible packet version"
	ReasonApplication   = "Different application"
	ReasonVersion       = "Different game version (server runs %d.%d)"
	ReasonNotAllowed    = "The server is not accepting joins"
	ReasonFull          = "Maximum players reached: %d"
	ReasonSplitscreen   = "Invalid local player count"
	ReasonBroadcasting  = "The server is sending files, please try again"
	ReasonJoinDelay     = "Too many people are connecting, please wait a few seconds"
	ReasonBadName       = "Bad player name"
	ReasonSendFailed    = "Server couldn't send info, please try again"
	ReasonGameInfo      = "Server couldn't send the game state, please try again"
)

// maxHumans is the effective player ceiling.
func (s *Server) maxHumans() int {
	limit := netconfig.MaxPlayers
	if s.cfg.Dedicated {
		limit--
	}
	if s.cfg.MaxPlayers > 0 {
		limit = min(limit, s.cfg.MaxPlayers)
	}
	return limit
}

// reservedSlots counts slots owned by human nodes, seated or pending.
func (s *Server) reservedSlots() int {
	return lo.CountBy(s.slotOwner[:], func(owner int) bool { return owner >= 0 })
}

// banReason renders the refusal for an active ban.
func banReason(r bans.Record, now time.Time) string {
	reason := r.Reason
	if reason == "" {
		reason = "No reason given"
	}
	if r.Permanent() {
		return "B|" + reason
	}
	return "K|" + reason + "\n" + bans.FormatRemaining(r.Remaining(now))
}

// refusal runs the admission checks in order and returns the first
// failing reason, or "" when the join may proceed.
func (s *Server) refusal(id int, m messages.ClientJoin, now time.Time) string {
	n := &s.nodes[id]
	if r, banned := s.bans.Match(n.addr, now); banned {
		return banReason(r, now)
	}
	switch {
	case m.PacketVersion != netconfig.PacketVersion:
		return ReasonPacketVersion
	case m.Application != netconfig.Application:
		return ReasonApplication
	case m.Version != netconfig.Version || m.Subversion != netconfig.Subversion:
		return fmt.Sprintf(ReasonVersion, netconfig.Version/100, netconfig.Version%100)
	case !s.cfg.AllowJoin:
		return ReasonNotAllowed
	}
	if limit := s.maxHumans(); s.reservedSlots()+int(m.LocalPlayers) > limit {
		return fmt.Sprintf(ReasonFull, limit)
	}
	if m.LocalPlayers == 0 || m.LocalPlayers > netconfig.MaxSplitscreen || len(m.Names) < int(m.LocalPlayers) {
		return ReasonSplitscreen
	}
	if s.files.Broadcasting() {
		return ReasonBroadcasting
	}
	if s.joinDelay > 2*s.cfg.JoinDelay*netconfig.TicRate {
		return ReasonJoinDelay
	}
	return ""
}

// handleJoin admits node id or refuses it.
func (s *Server) handleJoin(id int, m messages.ClientJoin, now time.Time) {
	n := &s.nodes[id]
	log := s.log.WithFields(logrus.Fields{"node": id, "addr": n.addr})
	if n.inGame {
		// The ServerConfig was lost and the client asked again.
		_ = s.send(id, s.serverConfig(id, n.players), true)
		return
	}
	if reason := s.refusal(id, m, now); reason != "" {
		s.refuse(id, reason)
		return
	}
	names, ok := s.pickNames(m.Names[:m.LocalPlayers])
	if !ok {
		s.refuse(id, ReasonBadName)
		return
	}

	slots := make([]int, 0, len(names))
	for range names {
		slot := s.freeSlot(true)
		if slot < 0 {
			break
		}
		slots = append(slots, slot)
		s.slotOwner[slot] = id
	}
	if len(slots) < len(names) {
		s.releaseSlots(id, slots)
		s.refuse(id, fmt.Sprintf(ReasonFull, s.maxHumans()))
		return
	}

	n.inGame = true
	n.players = slots
	n.ack = s.game.Tic()
	n.supposed = s.game.Tic()
	n.deadline = now.Add(s.cfg.NetTimeout + s.cfg.JoinTimeout)
	n.joinedAt = now

	if err := s.send(id, s.serverConfig(id, slots), true); err != nil {
		log.WithError(err).Warn("rolling back join")
		s.releaseSlots(id, slots)
		s.refuse(id, ReasonSendFailed)
		return
	}
	if s.game.Tic() != 0 {
		if err := s.queueSnapshot(id, now); err != nil {
			log.WithError(err).Error("cannot send game state to joining node")
			s.releaseSlots(id, slots)
			s.refuse(id, ReasonGameInfo)
			return
		}
	}
	for split, slot := range slots {
		s.seat(slot, id, split, names[split], false)
	}
	s.joinDelay += s.cfg.JoinDelay * netconfig.TicRate
	log.WithFields(logrus.Fields{"slots": slots, "names": names, "tic": s.game.Tic()}).Info("node joined")
}

// pickNames validates each requested name and makes it unique among the
// seated players and the rest of the request.
func (s *Server) pickNames(requested []string) ([]string, bool) {
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		taken := func(candidate string) bool {
			return s.game.NameTaken(candidate, -1) || lo.Contains(out, candidate)
		}
		good, ok := lockstep.EnsureNameIsGood(name, taken)
		if !ok {
			return nil, false
		}
		out = append(out, good)
	}
	return out, true
}

func (s *Server) serverConfig(id int, slots []int) messages.ServerConfig {
	total := s.numSlots
	for _, slot := range slots {
		total = max(total, slot+1)
	}
	first := 0
	if len(slots) > 0 {
		first = slots[0]
	}
	return messages.ServerConfig{
		Tic:             uint32(s.game.Tic()),
		ServerPlayer:    uint8(first),
		ClientNode:      uint8(id),
		TotalSlots:      uint8(total),
		GameType:        s.cfg.GameType,
		GameState:       s.gameState(),
		Context:         s.context,
		Modified:        s.modified,
		SaveGameFollows: s.game.Tic() != 0,
		MaxPing:         s.cfg.MaxPing,
		Seed:            s.cfg.Seed,
	}
}

func (s *Server) gameState() netconfig.GameState {
	if s.game.Humans() == 0 {
		return netconfig.GameStateWaitingPlayers
	}
	return netconfig.GameStateLevel
}

// releaseSlots undoes slot reservations of a failed join.
func (s *Server) releaseSlots(id int, slots []int) {
	for _, slot := range slots {
		if s.slotOwner[slot] == id {
			s.slotOwner[slot] = noOwner
			if s.game.Player(slot).Bot {
				s.slotOwner[slot] = botOwner
			}
		}
	}
	n := &s.nodes[id]
	n.inGame = false
	n.players = nil
}

// refuse sends the reason and closes the node.
func (s *Server) refuse(id int, reason string) {
	s.log.WithFields(logrus.Fields{"node": id, "reason": reason}).Info("join refused")
	_ = s.send(id, messages.ServerRefuse{Reason: reason}, true)
	s.closeNode(id)
}

// queueSnapshot sends the current game state to node id as transfer 0.
func (s *Server) queueSnapshot(id int, now time.Time) error {
	data, err := s.game.Snapshot()
	if err != nil {
		return err
	}
	if err := s.files.Queue(id, messages.SaveGameFileID, data); err != nil {
		return err
	}
	n := &s.nodes[id]
	n.resending = true
	n.supposed = s.game.Tic()
	n.ack = max(n.ack, s.game.Tic())
	n.deadline = now.Add(s.cfg.NetTimeout + s.cfg.JoinTimeout)
	s.log.WithFields(logrus.Fields{"node": id, "tic": s.game.Tic(), "bytes": len(data)}).Info("sending game state")
	return nil
}

// ErrNoSuchPlayer is returned by operator commands naming an empty slot.
var ErrNoSuchPlayer = errors.New("server: no such player")

// findPlayer resolves a slot number or a player name.
func (s *Server) findPlayer(target string) (int, error) {
	if slot, err := strconv.Atoi(target); err == nil {
		if s.game.InGame(slot) {
			return slot, nil
		}
		return 0, fmt.Errorf("%w: slot %d", ErrNoSuchPlayer, slot)
	}
	for slot := 0; slot < netconfig.MaxPlayers; slot++ {
		if p := s.game.Player(slot); p.InGame && p.Name == target {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNoSuchPlayer, target)
}
