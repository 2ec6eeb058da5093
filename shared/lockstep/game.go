// Package lockstep holds the game state every node advances in lockstep:
// the player slot table, the tic command store, the consistency ring and
// the simulation.
package lockstep

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/consistency"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/protocol"
	"github.com/automoto/kartsync/shared/savegame"
	"github.com/automoto/kartsync/shared/tic"
	"github.com/automoto/kartsync/shared/ticcmd"
	"github.com/automoto/kartsync/shared/xcmd"
)

// Simulation is the deterministic gameplay driven by tic commands.
type Simulation interface {
	AddRacer(slot int)
	RemoveRacer(slot int)
	Step(cmds []ticcmd.TicCmd)
	Checksum() consistency.Token
	Save() ([]byte, error)
	Load(data []byte) error
}

// Player is one slot of the player table.
type Player struct {
	InGame bool
	Node   int
	Split  int
	Name   string
	Bot    bool
	Admin  bool
}

// Listener observes changes produced by extra commands. Every node sees
// the same calls in the same order.
type Listener interface {
	PlayerAdded(slot int, p Player)
	PlayerRemoved(slot int, p Player, reason netconfig.KickReason, message string)
	AdminChanged(slot int, admin bool)
	// BadCommand reports an extra command buffer that could not be run.
	BadCommand(slot int, err error)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) PlayerAdded(int, Player)                                {}
func (NopListener) PlayerRemoved(int, Player, netconfig.KickReason, string) {}
func (NopListener) AdminChanged(int, bool)                                 {}
func (NopListener) BadCommand(int, error)                                  {}

var ErrNotAuthorized = errors.New("lockstep: command not authorized")

// Game is the lockstep state of one node.
type Game struct {
	tic      tic.Tic
	players  [netconfig.MaxPlayers]Player
	store    *ticcmd.Store
	ring     consistency.Ring
	sim      Simulation
	xcmds    *xcmd.Registry
	listener Listener
	log      logrus.FieldLogger
}

func NewGame(sim Simulation, store *ticcmd.Store, log logrus.FieldLogger) *Game {
	g := &Game{
		store:    store,
		sim:      sim,
		xcmds:    xcmd.NewRegistry(),
		listener: NopListener{},
		log:      log.WithField("component", "game"),
	}
	g.registerCommands()
	g.ring.Set(0, sim.Checksum())
	return g
}

// SetListener replaces the event listener.
func (g *Game) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	g.listener = l
}

// Registry exposes the extra command registry so a role can install its
// own handlers.
func (g *Game) Registry() *xcmd.Registry { return g.xcmds }

func (g *Game) Store() *ticcmd.Store { return g.store }

// Tic is the next tic to run.
func (g *Game) Tic() tic.Tic { return g.tic }

func (g *Game) Player(slot int) Player { return g.players[slot] }

// InGame reports whether slot holds a human or bot player.
func (g *Game) InGame(slot int) bool {
	return slot >= 0 && slot < netconfig.MaxPlayers && g.players[slot].InGame
}

// Humans counts in-game non-bot players.
func (g *Game) Humans() int {
	n := 0
	for _, p := range g.players {
		if p.InGame && !p.Bot {
			n++
		}
	}
	return n
}

// NameTaken reports whether an in-game player other than except uses name.
func (g *Game) NameTaken(name string, except int) bool {
	for slot, p := range g.players {
		if slot != except && p.InGame && p.Name == name {
			return true
		}
	}
	return false
}

// Consistency returns the token of the state at the start of t.
func (g *Game) Consistency(t tic.Tic) consistency.Token {
	return g.ring.Get(t)
}

// Ring exposes the consistency ring for window checks.
func (g *Game) Ring() *consistency.Ring { return &g.ring }

// RunTic runs the extra commands attached to the current tic, then steps
// the simulation with its movement commands.
func (g *Game) RunTic() {
	t := g.tic
	g.runText(t, netconfig.ServerSlot)
	for slot := 0; slot < netconfig.MaxPlayers; slot++ {
		if slot != netconfig.ServerSlot && g.players[slot].InGame {
			g.runText(t, slot)
		}
	}
	g.sim.Step(g.store.Slots(t))
	g.tic++
	g.ring.Set(g.tic, g.sim.Checksum())
}

func (g *Game) runText(t tic.Tic, slot int) {
	buf := g.store.Text(t, slot)
	if len(buf) == 0 {
		return
	}
	if err := g.xcmds.Execute(buf, slot); err != nil {
		g.log.WithFields(logrus.Fields{"tic": t, "slot": slot}).WithError(err).Warn("extra command failed")
		g.listener.BadCommand(slot, err)
	}
}

func (g *Game) registerCommands() {
	g.xcmds.Register(xcmd.KindAddPlayer, xcmd.HandlerFunc(g.handleAddPlayer))
	g.xcmds.Register(xcmd.KindKick, xcmd.HandlerFunc(g.handleKick))
	g.xcmds.Register(xcmd.KindLogin, xcmd.HandlerFunc(func([]byte, int) error { return nil }))
	g.xcmds.Register(xcmd.KindVerified, xcmd.HandlerFunc(g.handleVerified))
	g.xcmds.Register(xcmd.KindRemoveAdmin, xcmd.HandlerFunc(g.handleRemoveAdmin))
	g.xcmds.Register(xcmd.KindNameChange, xcmd.HandlerFunc(g.handleNameChange))
}

func (g *Game) handleAddPlayer(payload []byte, slot int) error {
	if slot != netconfig.ServerSlot {
		return fmt.Errorf("%w: addplayer from slot %d", ErrNotAuthorized, slot)
	}
	a, err := xcmd.DecodeAddPlayer(payload)
	if err != nil {
		return err
	}
	if int(a.Slot) >= netconfig.MaxPlayers {
		return fmt.Errorf("lockstep: addplayer slot %d out of range", a.Slot)
	}
	p := Player{InGame: true, Node: int(a.Node), Split: int(a.Split), Name: a.Name, Bot: a.Bot}
	g.AddPlayer(int(a.Slot), p)
	return nil
}

// AddPlayer seats p in slot, replacing any bot there.
func (g *Game) AddPlayer(slot int, p Player) {
	p.InGame = true
	g.players[slot] = p
	g.sim.AddRacer(slot)
	g.log.WithFields(logrus.Fields{"slot": slot, "node": p.Node, "name": p.Name}).Info("player added")
	g.listener.PlayerAdded(slot, p)
}

func (g *Game) handleKick(payload []byte, issuer int) error {
	k, err := xcmd.DecodeKick(payload)
	if err != nil {
		return err
	}
	if issuer != netconfig.ServerSlot && !g.players[issuer].Admin {
		g.log.WithFields(logrus.Fields{"issuer": issuer, "target": k.Target}).Warn("illegal kick command")
		k = xcmd.Kick{Target: uint8(issuer), Reason: netconfig.KickConsistencyFailure}
	}
	target := int(k.Target)
	if !g.InGame(target) {
		return fmt.Errorf("lockstep: kick of empty slot %d", target)
	}
	g.Kick(target, k.Reason, k.Message)
	return nil
}

// Kick removes target. Kicking a human's primary slot removes every slot
// of its node.
func (g *Game) Kick(target int, reason netconfig.KickReason, message string) {
	p := g.players[target]
	if p.Bot || p.Split != 0 {
		g.removePlayer(target, reason, message)
		return
	}
	for slot := range g.players {
		q := g.players[slot]
		if q.InGame && !q.Bot && q.Node == p.Node {
			g.removePlayer(slot, reason, message)
		}
	}
}

func (g *Game) removePlayer(slot int, reason netconfig.KickReason, message string) {
	p := g.players[slot]
	g.players[slot] = Player{}
	g.sim.RemoveRacer(slot)
	g.log.WithFields(logrus.Fields{"slot": slot, "node": p.Node, "name": p.Name, "reason": reason.String()}).Info("player removed")
	g.listener.PlayerRemoved(slot, p, reason, message)
}

func (g *Game) handleVerified(payload []byte, issuer int) error {
	return g.setAdmin(payload, issuer, true)
}

func (g *Game) handleRemoveAdmin(payload []byte, issuer int) error {
	return g.setAdmin(payload, issuer, false)
}

func (g *Game) setAdmin(payload []byte, issuer int, admin bool) error {
	if issuer != netconfig.ServerSlot {
		return fmt.Errorf("%w: admin change from slot %d", ErrNotAuthorized, issuer)
	}
	slot, err := xcmd.DecodeSlot(payload)
	if err != nil {
		return err
	}
	if !g.InGame(int(slot)) {
		return fmt.Errorf("lockstep: admin change for empty slot %d", slot)
	}
	g.players[slot].Admin = admin
	g.listener.AdminChanged(int(slot), admin)
	return nil
}

func (g *Game) handleNameChange(payload []byte, issuer int) error {
	n, err := xcmd.DecodeNameChange(payload)
	if err != nil {
		return err
	}
	name, ok := EnsureNameIsGood(n.Name, func(s string) bool { return g.NameTaken(s, issuer) })
	if !ok {
		return fmt.Errorf("lockstep: bad name %q from slot %d", n.Name, issuer)
	}
	g.log.WithFields(logrus.Fields{"slot": issuer, "from": g.players[issuer].Name, "to": name}).Info("player renamed")
	g.players[issuer].Name = name
	return nil
}

type savedGame struct {
	Tic     uint32
	Players [netconfig.MaxPlayers]Player
	Sim     []byte
}

// Snapshot serializes the authoritative state at the current tic.
func (g *Game) Snapshot() ([]byte, error) {
	simData, err := g.sim.Save()
	if err != nil {
		return nil, err
	}
	raw, err := protocol.Marshal(savedGame{Tic: uint32(g.tic), Players: g.players, Sim: simData})
	if err != nil {
		return nil, fmt.Errorf("lockstep: snapshot: %w", err)
	}
	return savegame.Pack(raw)
}

// Restore replaces the state with a Snapshot result and returns its tic.
func (g *Game) Restore(framed []byte) (tic.Tic, error) {
	raw, err := savegame.Unpack(framed)
	if err != nil {
		return 0, err
	}
	var s savedGame
	if err := protocol.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("lockstep: restore: %w", err)
	}
	if err := g.sim.Load(s.Sim); err != nil {
		return 0, err
	}
	g.players = s.Players
	g.tic = tic.Tic(s.Tic)
	g.ring.Reset()
	g.ring.Set(g.tic, g.sim.Checksum())
	g.log.WithField("tic", g.tic).Info("game state restored")
	return g.tic, nil
}

// InputSource produces the local players' commands.
type InputSource interface {
	Cmd(split int, t tic.Tic) ticcmd.TicCmd
}

// IdleInput never presses anything.
type IdleInput struct{}

func (IdleInput) Cmd(int, tic.Tic) ticcmd.TicCmd { return ticcmd.TicCmd{} }
