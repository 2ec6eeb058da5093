package core

import (
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/consistency"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
)

const (
	// resyncCooldown separates two resends to the same node.
	resyncCooldown = 5 * time.Second
	// resyncDecay forgives one used resend attempt.
	resyncDecay = 30 * time.Second
)

// checkConsistency compares a client's token for t against the server's.
func (s *Server) checkConsistency(id int, t tic.Tic, token consistency.Token, now time.Time) {
	n := &s.nodes[id]
	if n.resending || now.Before(n.resyncReady) || s.anyResending() {
		return
	}
	match, ok := s.game.Ring().Matches(t, s.game.Tic(), token)
	if !ok || match {
		return
	}
	s.log.WithFields(logrus.Fields{
		"node":   id,
		"tic":    t,
		"server": s.game.Consistency(t),
		"client": token,
	}).Warn("consistency failure")
	if !slices.Contains(s.mismatches, id) {
		s.mismatches = append(s.mismatches, id)
	}
}

func (s *Server) anyResending() bool {
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		if s.nodes[id].inGame && s.nodes[id].resending {
			return true
		}
	}
	return false
}

// resolveMismatches resyncs at most one diverged node per frame, lowest
// node id first, and kicks nodes out of attempts.
func (s *Server) resolveMismatches(now time.Time) {
	if len(s.mismatches) == 0 {
		return
	}
	slices.Sort(s.mismatches)
	for _, id := range s.mismatches {
		n := &s.nodes[id]
		if !n.inGame || n.leaving {
			continue
		}
		if s.cfg.ResyncAttempts <= 0 || n.resyncs >= s.cfg.ResyncAttempts {
			s.log.WithFields(logrus.Fields{"node": id, "attempts": n.resyncs}).Warn("kicking node out of sync")
			s.kickNode(id, netconfig.KickConsistencyFailure, "")
			continue
		}
		if s.anyResending() {
			continue
		}
		s.offerResync(id, now)
	}
	s.mismatches = s.mismatches[:0]
}

// offerResync announces a full state resend to node id.
func (s *Server) offerResync(id int, now time.Time) {
	n := &s.nodes[id]
	n.resending = true
	n.offered = true
	n.resyncs++
	n.resyncDecay = now.Add(resyncDecay)
	n.deadline = now.Add(s.cfg.NetTimeout + s.cfg.JoinTimeout)
	s.log.WithFields(logrus.Fields{"node": id, "attempt": n.resyncs}).Info("resending game state")
	_ = s.send(id, messages.WillResendGameState{}, true)
}

// ResendGameState forces a resend to the node owning slot.
func (s *Server) ResendGameState(slot int) error {
	id := s.slotOwner[slot]
	if id <= 0 || !s.game.InGame(slot) {
		return ErrNoSuchPlayer
	}
	if s.nodes[id].resending {
		return nil
	}
	s.offerResync(id, s.clock.Now())
	return nil
}

func (s *Server) handleCanReceive(id int, now time.Time) {
	n := &s.nodes[id]
	if !n.inGame || !n.offered {
		return
	}
	n.offered = false
	if err := s.queueSnapshot(id, now); err != nil {
		s.log.WithField("node", id).WithError(err).Error("cannot snapshot game state")
		n.resending = false
	}
}

func (s *Server) handleReceivedGameState(id int, now time.Time) {
	n := &s.nodes[id]
	if !n.inGame || !n.resending || n.offered {
		return
	}
	if s.files.Sending(id, messages.SaveGameFileID) {
		return
	}
	n.resending = false
	n.resyncReady = now.Add(resyncCooldown)
	n.deadline = now.Add(s.cfg.NetTimeout)
	s.log.WithField("node", id).Info("node loaded game state")
}

// decayResyncs forgives one attempt per node every resyncDecay.
func (s *Server) decayResyncs(now time.Time) {
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		n := &s.nodes[id]
		if n.resyncs > 0 && now.After(n.resyncDecay) {
			n.resyncs--
			n.resyncDecay = now.Add(resyncDecay)
		}
	}
}
