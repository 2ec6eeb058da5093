package core

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/consistency"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
	"github.com/automoto/kartsync/shared/ticcmd"
)

// maxBatchTics is the tic count field limit of a ServerTics packet.
const maxBatchTics = 255

var botCmd = ticcmd.TicCmd{Forward: 50, Buttons: ticcmd.ButtonAccelerate}

// updateFirstTicsToSend finds the oldest tic some node still needs.
func (s *Server) updateFirstTicsToSend() {
	first := s.maketic
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		n := &s.nodes[id]
		if n.inGame && !n.leaving && n.ack < first {
			first = n.ack
		}
	}
	s.firstTicsToSend = first
}

// makeTic builds the command row of maketic. Slots whose owner sent
// nothing repeat their last command without the received flag.
func (s *Server) makeTic() {
	t := s.maketic
	for slot := 0; slot < netconfig.MaxPlayers; slot++ {
		if !s.game.InGame(slot) {
			continue
		}
		p := s.game.Player(slot)
		cmd := s.store.CmdPtr(t, slot)
		switch {
		case p.Bot:
			*cmd = botCmd
		case p.Node == 0:
			*cmd = s.input.Cmd(p.Split, t)
			cmd.Flags |= ticcmd.FlagReceived
		case !cmd.Received():
			*cmd = s.lastCmd[slot]
			cmd.Flags &^= ticcmd.FlagReceived
		}
		s.lastCmd[slot] = *cmd
	}
	s.ticSlots[t.Index()] = uint8(s.numSlots)
	s.maketic++
	if s.joinDelay > 0 {
		s.joinDelay--
	}
	s.accumulatePing()
}

// clearAcknowledged drops every tic all nodes have acknowledged.
func (s *Server) clearAcknowledged() {
	for t := s.ticToClear; t < s.firstTicsToSend; t++ {
		s.store.ClearTic(t)
	}
	if s.firstTicsToSend > s.ticToClear {
		s.ticToClear = s.firstTicsToSend
	}
}

func (s *Server) sendTics() error {
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		n := &s.nodes[id]
		if !n.inGame || n.resending {
			continue
		}
		if err := s.sendTicsTo(id, n); err != nil {
			return err
		}
	}
	return nil
}

// sendTicsTo sends node id the tics from its supposed tic up to its
// acknowledged tic plus the forward buffer.
func (s *Server) sendTicsTo(id int, n *node) error {
	first := n.supposed
	last := min(s.maketic, n.ack+netconfig.ClientBackupTics)
	if first >= last {
		// Everything was sent; now and then repeat the unacknowledged tail
		// in case it was lost.
		first, last = n.ack, s.maketic
		if first >= last || (int(s.maketic)+id)&3 != 0 {
			return nil
		}
	}
	first = max(first, s.ticToClear)
	last = min(last, first+maxBatchTics)
	if first >= last {
		return nil
	}

	// A batch carries the widest slot count of the tics it may include.
	numSlots := 0
	for t := first; t < last; t++ {
		numSlots = max(numSlots, int(s.ticSlots[t.Index()]))
	}

	size := messages.ServerTicsHeaderSize
	end := first
	for t := first; t < last; t++ {
		ticSize := numSlots*ticcmd.Size + s.store.TextSize(t)
		if size+ticSize > s.cfg.SoftPacketLength && end > first {
			break
		}
		size += ticSize
		end = t + 1
	}
	if size > netconfig.HardPacketLength {
		return fmt.Errorf("%w: %d bytes for tic %d to node %d", ErrPacketOverflow, size, first, id)
	}

	pkt := messages.ServerTics{StartTic: first.Low(), NumTics: uint8(end - first), NumSlots: uint8(numSlots)}
	pkt.Cmds = make([]ticcmd.TicCmd, 0, int(pkt.NumTics)*numSlots)
	pkt.Text = make([][]messages.SlotText, 0, pkt.NumTics)
	for t := first; t < end; t++ {
		pkt.Cmds = append(pkt.Cmds, s.store.Slots(t)[:numSlots]...)
		var text []messages.SlotText
		for _, slot := range s.store.TextSlots(t) {
			text = append(text, messages.SlotText{Slot: uint8(slot), Data: s.store.Text(t, slot)})
		}
		pkt.Text = append(pkt.Text, text)
	}
	_ = s.send(id, pkt, false)

	extra := tic.Tic(max(0, s.cfg.ExtraTics))
	if end > first+extra {
		n.supposed = end - extra
	} else {
		n.supposed = end
	}
	n.supposed = max(n.supposed, n.ack)
	return nil
}

// handleClientCmd applies one per-tic client packet.
func (s *Server) handleClientCmd(id int, m messages.ClientCmd, now time.Time) {
	n := &s.nodes[id]
	if n.resending {
		// Keep-alives from a node loading a snapshot may lag its baseline.
		if d := now.Add(s.cfg.NetTimeout); d.After(n.deadline) {
			n.deadline = d
		}
		return
	}
	realStart := tic.Expand(m.ClientTic, n.ack)
	realEnd := tic.Expand(m.ResendFrom, n.ack)

	if m.Missed() || n.supposed < realEnd {
		n.supposed = realEnd
	}
	if realEnd < n.ack {
		s.log.WithFields(logrus.Fields{"node": id, "ack": n.ack, "got": realEnd}).Debug("out of order client packet")
		return
	}
	if realEnd > s.maketic {
		s.log.WithFields(logrus.Fields{"node": id, "maketic": s.maketic, "got": realEnd}).Debug("client acknowledged unmade tic")
		return
	}
	n.ack = realEnd
	if d := now.Add(s.cfg.NetTimeout); d.After(n.deadline) {
		n.deadline = d
	}
	if m.KeepAlive() {
		return
	}
	for i, cmd := range m.Cmds {
		if i >= len(n.players) {
			break
		}
		cmd.Flags |= ticcmd.FlagReceived
		s.store.SetCmd(s.maketic, n.players[i], cmd)
	}
	s.checkConsistency(id, realStart, consistency.Token(m.Consistency), now)
}

// handleTextCmd attaches a client's extra command to its slot at maketic.
func (s *Server) handleTextCmd(id int, m messages.TextCmd) {
	n := &s.nodes[id]
	if int(m.Split) >= len(n.players) {
		s.log.WithFields(logrus.Fields{"node": id, "split": m.Split}).Debug("text command for unknown split")
		return
	}
	s.queueText(n.players[m.Split], m.Data)
}
