package network

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/lockstep"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
	"github.com/automoto/kartsync/shared/xcmd"
)

// handleTics stores a server tic batch if it covers the tic the client
// waits for. Batches that start later ask for a resend; batches that end
// earlier are duplicates.
func (c *Client) handleTics(m messages.ServerTics) {
	realStart := tic.Expand(m.StartTic, c.neededTic)
	realEnd := realStart + tic.Tic(m.NumTics)
	if limit := c.game.Tic() + netconfig.ClientBackupTics; realEnd > limit {
		realEnd = limit
	}
	log := c.log.WithFields(logrus.Fields{"start": realStart, "end": realEnd, "needed": c.neededTic})
	if realStart > c.neededTic {
		log.Debug("tics out of order, asking for a resend")
		c.missed = true
		return
	}
	if realEnd <= c.neededTic {
		log.Debug("stale tics discarded")
		return
	}
	c.numSlots = int(m.NumSlots)
	for t := c.neededTic; t < realEnd; t++ {
		i := int(t - realStart)
		c.store.ClearTic(t)
		for slot, cmd := range m.Tic(i) {
			c.store.SetCmd(t, slot, cmd)
		}
		for _, e := range m.Text[i] {
			if int(e.Slot) >= netconfig.MaxPlayers {
				continue
			}
			if err := c.store.SetText(t, int(e.Slot), e.Data); err != nil {
				log.WithError(err).Warn("dropping oversized text")
			}
		}
	}
	c.neededTic = realEnd
}

// runTics runs every tic received so far.
func (c *Client) runTics() {
	for c.state == StateConnected && c.game.Tic() < c.neededTic {
		t := c.game.Tic()
		store := c.store
		c.game.RunTic()
		store.ClearText(t)
	}
}

// sendCmd sends the per-frame packet. Keep-alives carry no commands.
func (c *Client) sendCmd(keepAlive bool) {
	kind := messages.TypeClientCmd
	if keepAlive {
		kind = messages.TypeNodeKeepAlive
	}
	if c.missed {
		kind++
	}
	pkt := messages.ClientCmd{
		Kind:       kind,
		ClientTic:  c.game.Tic().Low(),
		ResendFrom: c.neededTic.Low(),
	}
	if !keepAlive {
		pkt.Consistency = uint16(c.game.Consistency(c.game.Tic()))
		for split := range c.slots {
			pkt.Cmds = append(pkt.Cmds, c.opts.Input.Cmd(split, c.game.Tic()))
		}
	}
	if c.send(pkt, false) == nil {
		c.missed = false
	}
}

func (c *Client) handleWillResend() {
	if c.state != StateConnected {
		return
	}
	c.log.WithField("tic", c.game.Tic()).Warn("server is resending the game state")
	c.receiver.Forget(messages.SaveGameFileID)
	c.enter(StateDownloadingSaveGame)
	_ = c.send(messages.CanReceiveGameState{}, true)
}

func (c *Client) loadGameState(data []byte) {
	t, err := c.game.Restore(data)
	if err != nil {
		c.abortWith("Cannot load the game state: " + err.Error())
		return
	}
	c.store.Reset()
	c.neededTic = t
	c.missed = false
	for slot := 0; slot < netconfig.MaxPlayers; slot++ {
		if p := c.game.Player(slot); p.InGame && !p.Bot && p.Node == c.node && p.Split < len(c.slots) {
			c.slots[p.Split] = slot
		}
	}
	_ = c.send(messages.ReceivedGameState{Tic: uint32(t)}, true)
	c.enter(StateConnected)
}

// SendText attaches data, a framed extra command buffer, to the local
// player split.
func (c *Client) SendText(split int, data []byte) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	if split < 0 || split >= len(c.slots) || c.slots[split] < 0 {
		return fmt.Errorf("network: no local player %d", split)
	}
	return c.send(messages.TextCmd{Split: uint8(split), Data: data}, true)
}

// SendCommand sends an extra command for split.
func (c *Client) SendCommand(split int, cmd xcmd.Command) error {
	buf, err := xcmd.Frame(cmd)
	if err != nil {
		return err
	}
	return c.SendText(split, buf)
}

// Login asks for admin rights with password.
func (c *Client) Login(password string) error {
	if len(c.slots) == 0 || c.slots[0] < 0 {
		return ErrNotConnected
	}
	return c.SendCommand(0, xcmd.Login{Hash: xcmd.LoginHash(password, c.slots[0])})
}

// sessionEvents follows the slot table on the client.
type sessionEvents struct {
	c *Client
}

func (e sessionEvents) PlayerAdded(slot int, p lockstep.Player) {
	c := e.c
	if !p.Bot && p.Node == c.node && p.Split < len(c.slots) {
		c.slots[p.Split] = slot
	}
}

func (e sessionEvents) PlayerRemoved(slot int, p lockstep.Player, reason netconfig.KickReason, message string) {
	c := e.c
	if p.Bot || p.Node != c.node || len(c.slots) == 0 || slot != c.slots[0] {
		return
	}
	text := kickText(reason, message)
	c.log.WithFields(logrus.Fields{"slot": slot, "reason": reason.String()}).Warn("kicked from the server")
	c.abortWith(text)
}

func kickText(reason netconfig.KickReason, message string) string {
	switch reason {
	case netconfig.KickGoAway:
		return "You have been kicked by the server"
	case netconfig.KickPingHigh:
		return "You have been kicked for having a high ping"
	case netconfig.KickConsistencyFailure:
		return "You have been kicked for a synchronization failure"
	case netconfig.KickTimeout:
		return "Server closed the connection (timeout)"
	case netconfig.KickPlayerQuit:
		return "You left the server"
	case netconfig.KickBanned:
		return "You have been banned by the server"
	case netconfig.KickCustomKick:
		return "You have been kicked: " + message
	case netconfig.KickCustomBan:
		return "You have been banned: " + message
	}
	return "You have been removed from the server"
}

func (sessionEvents) AdminChanged(int, bool) {}

func (e sessionEvents) BadCommand(slot int, err error) {
	e.c.log.WithField("slot", slot).WithError(err).Debug("bad extra command")
}
