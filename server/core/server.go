package core

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/config"
	"github.com/automoto/kartsync/network/transport"
	"github.com/automoto/kartsync/shared/bans"
	"github.com/automoto/kartsync/shared/filetx"
	"github.com/automoto/kartsync/shared/lockstep"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/protocol"
	"github.com/automoto/kartsync/shared/sim"
	"github.com/automoto/kartsync/shared/tic"
	"github.com/automoto/kartsync/shared/ticcmd"
	"github.com/automoto/kartsync/shared/xcmd"
)

// ErrPacketOverflow means a single tic no longer fits in a datagram. It is
// the only error that stops the server.
var ErrPacketOverflow = errors.New("server: tic data exceeds the hard packet limit")

// Clock is the time source of the server loop.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// node is the server's view of one transport endpoint.
type node struct {
	connected bool
	inGame    bool
	// leaving is set once a kick or quit has been issued for the node.
	leaving bool

	addr     netip.Addr
	ack      tic.Tic
	supposed tic.Tic
	players  []int
	deadline time.Time

	// resending is set while a snapshot is offered or in flight.
	resending   bool
	offered     bool
	resyncReady time.Time
	resyncs     int
	resyncDecay time.Time
	joinedAt    time.Time
}

// Options are the collaborators of a Server. Zero values get defaults.
type Options struct {
	Clock    Clock
	Log      logrus.FieldLogger
	Sim      lockstep.Simulation
	Content  filetx.ContentStore
	BanStore bans.Store
	Input    lockstep.InputSource
}

// Slot owner markers besides node ids.
const (
	noOwner  = -1
	botOwner = -2
)

// Server is the authoritative network session. All of its state is owned
// by the goroutine calling Update.
type Server struct {
	cfg   config.Server
	tr    transport.Transport
	clock Clock
	log   logrus.FieldLogger

	game  *lockstep.Game
	store *ticcmd.Store
	input lockstep.InputSource

	nodes     [netconfig.MaxNetNodes]node
	slotOwner [netconfig.MaxPlayers]int
	lastCmd   [netconfig.MaxPlayers]ticcmd.TicCmd
	ticSlots  [netconfig.BackupTics]uint8
	numSlots  int

	maketic         tic.Tic
	firstTicsToSend tic.Tic
	ticToClear      tic.Tic
	joinDelay       int
	madeTics        int

	bans     bans.List
	banStore bans.Store

	content  filetx.ContentStore
	manifest []messages.FileNeeded
	files    *filetx.Sender
	modified bool

	adminHash   [xcmd.HashSize]byte
	hasPassword bool

	discovery  *discoveryLimiter
	context    [8]byte
	mismatches []int

	ping   pingState
	humans atomic.Int32
}

func NewServer(cfg config.Server, tr transport.Transport, opts Options) (*Server, error) {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Sim == nil {
		opts.Sim = sim.NewWorld(cfg.Seed)
	}
	if opts.Content == nil {
		opts.Content = filetx.DirStore{Dir: cfg.ContentDir}
	}
	if opts.Input == nil {
		opts.Input = lockstep.IdleInput{}
	}
	if cfg.SoftPacketLength <= 0 || cfg.SoftPacketLength > netconfig.HardPacketLength {
		cfg.SoftPacketLength = netconfig.SoftPacketLength
	}
	log := opts.Log.WithField("component", "server")

	store := ticcmd.NewStore()
	s := &Server{
		cfg:       cfg,
		tr:        tr,
		clock:     opts.Clock,
		log:       log,
		store:     store,
		game:      lockstep.NewGame(opts.Sim, store, opts.Log),
		input:     opts.Input,
		banStore:  opts.BanStore,
		content:   opts.Content,
		files:     filetx.NewSender(),
		discovery: newDiscoveryLimiter(cfg.DiscoveryRate, cfg.DiscoveryBurst),
	}
	for i := range s.slotOwner {
		s.slotOwner[i] = noOwner
	}
	s.game.SetListener(gameEvents{s})
	s.game.Registry().Register(xcmd.KindLogin, xcmd.HandlerFunc(s.handleLogin))
	s.SetPassword(cfg.AdminPassword)
	s.context = randomContext()

	if len(cfg.Files) > 0 {
		m, err := filetx.Manifest(s.content, cfg.Files)
		if err != nil {
			return nil, err
		}
		s.manifest = m
		s.modified = true
	}
	if err := s.ReloadBans(); err != nil {
		log.WithError(err).Warn("could not load ban list")
	}

	now := s.clock.Now()
	s.nodes[0] = node{connected: true, inGame: true, joinedAt: now}
	if !cfg.Dedicated {
		s.seat(0, 0, 0, cfg.HostName, false)
	}
	for i := 0; i < cfg.Bots; i++ {
		slot := s.freeSlot(false)
		if slot < 0 {
			break
		}
		s.seat(slot, 0, 0, fmt.Sprintf("Bot %d", i+1), true)
	}
	return s, nil
}

func randomContext() [8]byte {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		copy(b[:], "KARTSYNC")
		return b
	}
	for i := range b {
		b[i] = 'A' + b[i]%26
	}
	return b
}

// Game exposes the server's own lockstep state.
func (s *Server) Game() *lockstep.Game { return s.game }

// Maketic is the next tic the server will build.
func (s *Server) Maketic() tic.Tic { return s.maketic }

// NumSlots is the slot count carried in tic batches.
func (s *Server) NumSlots() int { return s.numSlots }

// PlayerCount is the number of in-game humans as of the last update. It
// is safe to call from any goroutine.
func (s *Server) PlayerCount() int { return int(s.humans.Load()) }

// Update runs one frame: every pending packet is handled before any
// outbound traffic of the frame is produced.
func (s *Server) Update() error {
	now := s.clock.Now()
	s.drain(now)
	s.resolveMismatches(now)
	s.checkTimeouts(now)
	s.updateFirstTicsToSend()

	room := int(s.firstTicsToSend) + netconfig.BackupTics - int(s.maketic) - 1
	if room > 0 {
		s.makeTic()
	}
	s.clearAcknowledged()
	if err := s.sendTics(); err != nil {
		return err
	}
	for s.game.Tic() < s.maketic {
		s.game.RunTic()
	}
	if err := s.files.Tick(s.sendFragment); err != nil {
		s.log.WithError(err).Warn("file transfer failed")
	}
	s.recountSlots()
	s.humans.Store(int32(s.game.Humans()))
	return nil
}

func (s *Server) drain(now time.Time) {
	for {
		p, ok := s.tr.Poll()
		if !ok {
			return
		}
		if p.Node <= 0 || p.Node >= netconfig.MaxNetNodes {
			continue
		}
		if p.Closed {
			s.nodeLost(p.Node)
			continue
		}
		n := &s.nodes[p.Node]
		if !n.connected {
			addr, _ := s.tr.Addr(p.Node)
			*n = node{connected: true, addr: addr}
		}
		if !n.inGame {
			n.deadline = now.Add(s.cfg.NetTimeout)
		}
		msg, err := protocol.Decode(p.Data)
		if err != nil {
			s.log.WithField("node", p.Node).WithError(err).Debug("dropping malformed packet")
			continue
		}
		s.handle(p.Node, msg, now)
	}
}

func (s *Server) handle(id int, msg messages.Message, now time.Time) {
	n := &s.nodes[id]
	switch m := msg.(type) {
	case messages.AskInfo:
		s.handleAskInfo(id, m, now)
	case messages.AskFullFileList:
		s.handleAskFullFileList(id, m)
	case messages.RequestFile:
		s.handleRequestFile(id, m)
	case messages.ClientJoin:
		s.handleJoin(id, m, now)
	case messages.ClientCmd:
		if n.inGame {
			s.handleClientCmd(id, m, now)
		}
	case messages.TextCmd:
		if n.inGame {
			s.handleTextCmd(id, m)
		}
	case messages.CanReceiveGameState:
		s.handleCanReceive(id, now)
	case messages.ReceivedGameState:
		s.handleReceivedGameState(id, now)
	case messages.ClientQuit:
		s.handleQuit(id)
	default:
		s.log.WithFields(logrus.Fields{"node": id, "type": msg.Type().String()}).Debug("unexpected packet")
	}
}

// send encodes msg for node id and logs failures.
func (s *Server) send(id int, msg messages.Message, reliable bool) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.tr.Send(id, data, reliable); err != nil {
		s.log.WithFields(logrus.Fields{"node": id, "type": msg.Type().String()}).WithError(err).Debug("send failed")
		return err
	}
	return nil
}

func (s *Server) sendFragment(id int, frag messages.FileFragment) error {
	return s.send(id, frag, true)
}

// broadcast sends msg to every joined remote node.
func (s *Server) broadcast(msg messages.Message, reliable bool) {
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		if s.nodes[id].inGame {
			_ = s.send(id, msg, reliable)
		}
	}
}

// closeNode forgets node id and closes its connection.
func (s *Server) closeNode(id int) {
	if id <= 0 {
		return
	}
	s.files.Cancel(id)
	for slot, owner := range s.slotOwner {
		if owner == id && !s.game.InGame(slot) {
			s.slotOwner[slot] = noOwner
		}
	}
	s.nodes[id] = node{}
	s.tr.CloseNode(id)
}

// nodeLost handles a connection closed by the transport.
func (s *Server) nodeLost(id int) {
	n := &s.nodes[id]
	if !n.connected {
		return
	}
	s.log.WithField("node", id).Info("connection closed")
	if n.inGame && len(n.players) > 0 {
		s.kickNode(id, netconfig.KickTimeout, "")
		return
	}
	s.closeNode(id)
}

func (s *Server) recountSlots() {
	n := 0
	for slot := netconfig.MaxPlayers - 1; slot >= 0; slot-- {
		if s.slotOwner[slot] != noOwner || s.game.InGame(slot) {
			n = slot + 1
			break
		}
	}
	s.numSlots = n
}

// queueXCmd attaches cmd to slot's buffer at the first tic from maketic on
// with room for it.
func (s *Server) queueXCmd(slot int, cmd xcmd.Command) {
	buf, err := xcmd.Frame(cmd)
	if err != nil {
		s.log.WithError(err).Error("cannot frame extra command")
		return
	}
	s.queueText(slot, buf)
}

func (s *Server) queueText(slot int, buf []byte) {
	for t := s.maketic; t < s.maketic+netconfig.ClientBackupTics; t++ {
		if err := s.store.AppendText(t, slot, buf); err == nil {
			return
		}
	}
	s.log.WithField("slot", slot).Warn("extra command buffer full, dropping command")
}

// seat reserves slot for node and broadcasts the AddPlayer command.
func (s *Server) seat(slot, id, split int, name string, bot bool) {
	s.slotOwner[slot] = id
	if bot {
		s.slotOwner[slot] = botOwner
	}
	s.queueXCmd(netconfig.ServerSlot, xcmd.AddPlayer{Node: uint8(id), Slot: uint8(slot), Split: uint8(split), Bot: bot, Name: name})
	s.recountSlots()
}

// freeSlot returns an unused slot, or a bot slot to take over when
// takeBots is set and no slot is free.
func (s *Server) freeSlot(takeBots bool) int {
	first := 0
	if s.cfg.Dedicated {
		first = 1
	}
	for slot := first; slot < netconfig.MaxPlayers; slot++ {
		if s.slotOwner[slot] == noOwner {
			return slot
		}
	}
	if !takeBots {
		return -1
	}
	for slot := first; slot < netconfig.MaxPlayers; slot++ {
		if s.slotOwner[slot] == botOwner {
			return slot
		}
	}
	return -1
}

// Shutdown tells every node the server is going away and closes them.
func (s *Server) Shutdown() {
	s.broadcast(messages.ServerShutdown{}, true)
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		if s.nodes[id].connected {
			s.closeNode(id)
		}
	}
	s.log.Info("server shut down")
}

// NodeInfo describes a node for the operator.
type NodeInfo struct {
	Node     int
	Addr     netip.Addr
	InGame   bool
	Ack      tic.Tic
	Supposed tic.Tic
	Slots    []int
	Resend   bool
}

// Nodes lists connected remote nodes.
func (s *Server) Nodes() []NodeInfo {
	var out []NodeInfo
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		n := s.nodes[id]
		if !n.connected {
			continue
		}
		out = append(out, NodeInfo{
			Node: id, Addr: n.addr, InGame: n.inGame, Ack: n.ack, Supposed: n.supposed,
			Slots: append([]int(nil), n.players...), Resend: n.resending,
		})
	}
	return out
}

// gameEvents reacts to changes the server's own simulation applies.
type gameEvents struct {
	s *Server
}

func (e gameEvents) PlayerAdded(slot int, p lockstep.Player) {
	e.s.ping.markJoined(slot, e.s.clock.Now())
}

func (e gameEvents) PlayerRemoved(slot int, p lockstep.Player, reason netconfig.KickReason, message string) {
	e.s.playerRemoved(slot, p, reason, message)
}

func (e gameEvents) AdminChanged(slot int, admin bool) {
	e.s.log.WithFields(logrus.Fields{"slot": slot, "admin": admin}).Info("admin status changed")
}

func (e gameEvents) BadCommand(slot int, err error) {
	e.s.badCommand(slot, err)
}
