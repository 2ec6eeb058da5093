package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/config"
	"github.com/automoto/kartsync/network/transport"
	"github.com/automoto/kartsync/shared/filetx"
	"github.com/automoto/kartsync/shared/lockstep"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/protocol"
	"github.com/automoto/kartsync/shared/sim"
	"github.com/automoto/kartsync/shared/tic"
	"github.com/automoto/kartsync/shared/ticcmd"
)

// openTimeout bounds dialing the server.
const openTimeout = 5 * time.Second

var ErrNotConnected = errors.New("network: not connected")

// AbortError is the reason a connection attempt or session ended.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string { return "network: " + e.Reason }

// Clock is the time source of the client.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Fetcher downloads content out of band.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Discoverer lists server addresses, for connect any.
type Discoverer interface {
	Addresses(ctx context.Context) ([]string, error)
}

// Options are the collaborators of a Client. Zero values get defaults.
type Options struct {
	Clock      Clock
	Log        logrus.FieldLogger
	Content    filetx.ContentStore
	Prompter   Prompter
	Input      lockstep.InputSource
	Discoverer Discoverer
	// Fetcher overrides the HTTP fetcher built from the server's source.
	Fetcher Fetcher
	// NewSim builds the simulation for a server's seed.
	NewSim func(seed uint32) lockstep.Simulation
}

// Client drives one connection to a server through the join handshake and
// the lockstep session. It is owned by the goroutine calling Update.
type Client struct {
	cfg    config.Client
	tr     transport.Dialer
	clock  Clock
	log    logrus.FieldLogger
	opts   Options
	active bool

	state      State
	address    string
	serverNode int
	// fixedNode is set when the server is reached through a node opened
	// outside the client.
	fixedNode  bool
	stateSince time.Time
	lastSend   time.Time
	lastHeard  time.Time
	joinStart  time.Time
	retry      time.Duration
	serverFull bool
	lost       bool
	abort      *AbortError
	refusal    string

	info     messages.ServerInfo
	manifest []messages.FileNeeded
	missing  []int
	receiver *filetx.Receiver
	fetches  chan fetchResult
	// fetchesLeft counts HTTP downloads still running.
	fetchesLeft int
	cancel      context.CancelFunc

	game      *lockstep.Game
	store     *ticcmd.Store
	node      int
	slots     []int
	numSlots  int
	neededTic tic.Tic
	missed    bool
	pings     messages.Ping
	context   [8]byte
}

func NewClient(cfg config.Client, tr transport.Dialer, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Content == nil {
		opts.Content = filetx.DirStore{Dir: cfg.ContentDir}
	}
	if opts.Prompter == nil {
		opts.Prompter = AutoPrompter{Accept: cfg.AutoConfirm}
	}
	if opts.Input == nil {
		opts.Input = lockstep.IdleInput{}
	}
	if opts.NewSim == nil {
		opts.NewSim = func(seed uint32) lockstep.Simulation { return sim.NewWorld(seed) }
	}
	if cfg.LocalPlayers <= 0 {
		cfg.LocalPlayers = 1
	}
	return &Client{
		cfg:        cfg,
		tr:         tr,
		clock:      opts.Clock,
		log:        opts.Log.WithField("component", "client"),
		opts:       opts,
		serverNode: -1,
		receiver:   filetx.NewReceiver(),
	}
}

// State reports the current connection state.
func (c *Client) State() State { return c.state }

// Active reports whether a connection attempt or session is running.
func (c *Client) Active() bool { return c.active }

// Err returns why the last attempt aborted, or nil.
func (c *Client) Err() error {
	if c.abort == nil {
		return nil
	}
	return c.abort
}

// Game is the session's lockstep state, nil before ServerConfig.
func (c *Client) Game() *lockstep.Game { return c.game }

// Slots are the local players' slots in split order.
func (c *Client) Slots() []int { return c.slots }

// Node is this client's node id on the server.
func (c *Client) Node() int { return c.node }

// NeededTic is the next tic the client waits for.
func (c *Client) NeededTic() tic.Tic { return c.neededTic }

// Pings is the last latency table broadcast by the server.
func (c *Client) Pings() messages.Ping { return c.pings }

// LastRefusal is the reason of the last ServerRefuse.
func (c *Client) LastRefusal() string { return c.refusal }

// ServerInfo is the last discovery reply.
func (c *Client) ServerInfo() messages.ServerInfo { return c.info }

// Connect starts connecting to address.
func (c *Client) Connect(address string) {
	c.reset()
	c.address = address
	c.active = true
	c.enter(StateSearching)
	c.lastHeard = c.clock.Now()
	c.log.WithField("address", address).Info("connecting")
}

// ConnectNode starts connecting through an already open transport node.
func (c *Client) ConnectNode(node int) {
	c.reset()
	c.serverNode = node
	c.fixedNode = true
	c.active = true
	c.enter(StateSearching)
	c.lastHeard = c.clock.Now()
	c.log.WithField("node", node).Info("connecting")
}

// ConnectAny connects to the first listed server that answers with a
// free slot. Discovery blocks for the duration of ctx.
func (c *Client) ConnectAny(ctx context.Context) error {
	if c.opts.Discoverer == nil {
		return errors.New("network: no server list configured")
	}
	addrs, err := c.opts.Discoverer.Addresses(ctx)
	if err != nil {
		return fmt.Errorf("network: list servers: %w", err)
	}
	if len(addrs) == 0 {
		return errors.New("network: no servers listed")
	}
	c.Connect(addrs[0])
	return nil
}

// Disconnect leaves the server.
func (c *Client) Disconnect() {
	if !c.active {
		return
	}
	if c.serverNode >= 0 {
		_ = c.send(messages.ClientQuit{}, true)
	}
	c.abortWith("disconnected")
}

func (c *Client) enter(s State) {
	if c.state != s {
		c.log.WithFields(logrus.Fields{"from": c.state.String(), "to": s.String()}).Debug("state change")
	}
	c.state = s
	c.stateSince = c.clock.Now()
	c.lastSend = time.Time{}
}

// reset releases every buffer of the previous attempt.
func (c *Client) reset() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.serverNode >= 0 && !c.fixedNode {
		c.tr.CloseNode(c.serverNode)
	}
	c.serverNode = -1
	c.fixedNode = false
	c.info = messages.ServerInfo{}
	c.manifest = nil
	c.missing = nil
	c.receiver.Reset()
	c.fetches = nil
	c.fetchesLeft = 0
	c.game = nil
	c.store = nil
	c.slots = nil
	c.node = 0
	c.numSlots = 0
	c.neededTic = 0
	c.missed = false
	c.lost = false
	c.serverFull = false
	c.retry = 0
	c.joinStart = time.Time{}
	c.abort = nil
	c.refusal = ""
	c.state = StateSearching
}

func (c *Client) abortWith(reason string) {
	c.log.WithFields(logrus.Fields{"state": c.state.String(), "reason": reason}).Warn("connection aborted")
	refusal := c.refusal
	c.reset()
	c.refusal = refusal
	c.abort = &AbortError{Reason: reason}
	c.state = StateAborted
}

// Update runs one frame: all pending packets first, then the state's
// outbound traffic and the tics that became runnable.
func (c *Client) Update() error {
	if !c.active {
		return nil
	}
	if c.state == StateAborted {
		c.state = StateSearching
		c.active = false
		return nil
	}
	now := c.clock.Now()
	c.drain(now)
	if c.state == StateAborted {
		return nil
	}

	switch c.state {
	case StateSearching:
		c.search(now)
	case StateAskingFullFileList:
		c.askFileList(now)
	case StateCheckingFiles:
		c.checkFiles()
	case StateConfirmConnect:
		c.confirm()
	case StateDownloadingFiles:
		c.download(now)
	case StateLoadingFiles:
		c.loadFiles()
	case StateAskingJoin:
		c.askJoin(now)
	case StateWaitingJoinResponse:
		if now.Sub(c.stateSince) >= c.retry {
			c.enter(StateAskingJoin)
		}
	case StateDownloadingSaveGame:
		c.sendCmd(true)
	case StateConnected:
		c.runTics()
		if c.state == StateConnected {
			c.sendCmd(false)
		}
	}

	if c.state == StateAborted {
		return nil
	}
	if c.lost {
		c.abortWith("Connection to the server was lost")
		return nil
	}
	if c.state != StateConfirmConnect && c.fetches == nil && now.Sub(c.lastHeard) > c.cfg.InactivityTimeout {
		c.abortWith("Network timeout")
	}
	return nil
}

func (c *Client) drain(now time.Time) {
	for {
		p, ok := c.tr.Poll()
		if !ok {
			return
		}
		if p.Node != c.serverNode || c.serverNode < 0 {
			continue
		}
		if p.Closed {
			c.serverNode = -1
			if c.state.inGame() {
				c.lost = true
			}
			continue
		}
		msg, err := protocol.Decode(p.Data)
		if err != nil {
			c.log.WithError(err).Debug("dropping malformed packet")
			continue
		}
		c.lastHeard = now
		c.handle(msg, now)
		if c.state == StateAborted {
			return
		}
	}
}

func (c *Client) handle(msg messages.Message, now time.Time) {
	switch m := msg.(type) {
	case messages.ServerInfo:
		c.handleServerInfo(m)
	case messages.MoreFilesNeeded:
		c.handleMoreFiles(m)
	case messages.FileFragment:
		c.handleFragment(m)
	case messages.ServerRefuse:
		c.handleRefuse(m)
	case messages.ServerConfig:
		c.handleServerConfig(m)
	case messages.ServerTics:
		if c.state == StateConnected {
			c.handleTics(m)
		}
	case messages.Ping:
		c.pings = m
	case messages.WillResendGameState:
		c.handleWillResend()
	case messages.ServerShutdown:
		c.abortWith("Server has shut down")
	default:
		c.log.WithField("type", msg.Type().String()).Debug("unexpected packet")
	}
}

// ensureNode opens the server connection when it is closed.
func (c *Client) ensureNode() bool {
	if c.serverNode >= 0 {
		return true
	}
	if c.fixedNode {
		c.lost = true
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	node, err := c.tr.Open(ctx, c.address)
	if err != nil {
		c.log.WithField("address", c.address).WithError(err).Debug("cannot reach server")
		return false
	}
	c.serverNode = node
	return true
}

func (c *Client) send(msg messages.Message, reliable bool) error {
	if c.serverNode < 0 {
		return ErrNotConnected
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.tr.Send(c.serverNode, data, reliable); err != nil {
		c.log.WithField("type", msg.Type().String()).WithError(err).Debug("send failed")
		return err
	}
	return nil
}

// due reports whether a retried packet should be sent now.
func (c *Client) due(now time.Time, interval time.Duration) bool {
	if c.lastSend.IsZero() || now.Sub(c.lastSend) >= interval {
		c.lastSend = now
		return true
	}
	return false
}

func (c *Client) search(now time.Time) {
	if !c.due(now, c.cfg.SearchRetry) || !c.ensureNode() {
		return
	}
	_ = c.send(messages.AskInfo{PacketVersion: netconfig.PacketVersion, Time: now.UnixNano()}, false)
}

func (c *Client) handleServerInfo(m messages.ServerInfo) {
	if c.state != StateSearching {
		return
	}
	switch {
	case m.PacketVersion != netconfig.PacketVersion || m.Application != netconfig.Application:
		c.abortWith("Incompatible server")
		return
	case m.Version != netconfig.Version || m.Subversion != netconfig.Subversion:
		c.abortWith(fmt.Sprintf("Different game version (server runs %d.%d)", m.Version/100, m.Version%100))
		return
	}
	c.info = m
	c.manifest = append([]messages.FileNeeded(nil), m.Files...)
	c.serverFull = strings.HasPrefix(m.RefuseReason, "Maximum players reached")
	c.log.WithFields(logrus.Fields{
		"server":  m.ServerName,
		"players": fmt.Sprintf("%d/%d", m.NumPlayers, m.MaxPlayers),
		"files":   m.TotalFiles,
		"latency": time.Duration(c.clock.Now().UnixNano() - m.Time).Round(time.Millisecond),
	}).Info("server found")
	if m.TotalFiles > len(c.manifest) {
		c.enter(StateAskingFullFileList)
		return
	}
	c.enter(StateCheckingFiles)
}

func (c *Client) askFileList(now time.Time) {
	if c.due(now, c.cfg.JoinRetry) {
		_ = c.send(messages.AskFullFileList{FirstNum: len(c.manifest)}, true)
	}
}

func (c *Client) handleMoreFiles(m messages.MoreFilesNeeded) {
	if c.state != StateAskingFullFileList || m.FirstNum != len(c.manifest) {
		return
	}
	c.manifest = append(c.manifest, m.Files...)
	if m.More && len(m.Files) > 0 && len(c.manifest) < c.info.TotalFiles {
		c.lastSend = time.Time{}
		return
	}
	c.enter(StateCheckingFiles)
}

func (c *Client) handleRefuse(m messages.ServerRefuse) {
	if c.state != StateAskingJoin && c.state != StateWaitingJoinResponse {
		return
	}
	c.refusal = m.Reason
	if strings.HasPrefix(m.Reason, "Maximum players reached") {
		c.log.WithField("reason", m.Reason).Info("server full, waiting for a free slot")
		c.serverFull = true
		c.retry = c.cfg.FullRetry
		c.enter(StateAskingJoin)
		c.lastSend = c.clock.Now()
		return
	}
	c.abortWith(RefusalText(m.Reason))
}

// RefusalText renders a refusal reason for the player, expanding the kick
// and ban prefixes.
func RefusalText(reason string) string {
	switch {
	case strings.HasPrefix(reason, "K|"):
		msg, remaining, _ := strings.Cut(reason[2:], "\n")
		if remaining == "" {
			return "You have been temporarily kicked: " + msg
		}
		return fmt.Sprintf("You have been temporarily kicked: %s (%s remaining)", msg, remaining)
	case strings.HasPrefix(reason, "B|"):
		return "You have been banned: " + reason[2:]
	}
	return reason
}

func (c *Client) askJoin(now time.Time) {
	if c.joinStart.IsZero() {
		c.joinStart = now
	}
	if c.retry == 0 {
		c.retry = c.cfg.JoinRetry
	}
	if now.Sub(c.joinStart) > c.cfg.JoinCeiling {
		c.abortWith("Timed out waiting to join")
		return
	}
	if !c.lastSend.IsZero() && now.Sub(c.lastSend) < c.retry {
		return
	}
	c.lastSend = now
	if !c.ensureNode() {
		return
	}
	names := make([]string, c.cfg.LocalPlayers)
	for i := range names {
		if i < len(c.cfg.Names) {
			names[i] = c.cfg.Names[i]
		} else {
			names[i] = fmt.Sprintf("Player %d", i+1)
		}
	}
	err := c.send(messages.ClientJoin{
		PacketVersion: netconfig.PacketVersion,
		Application:   netconfig.Application,
		Version:       netconfig.Version,
		Subversion:    netconfig.Subversion,
		LocalPlayers:  uint8(c.cfg.LocalPlayers),
		Names:         names,
	}, true)
	if err == nil {
		c.enter(StateWaitingJoinResponse)
	}
}

func (c *Client) handleServerConfig(m messages.ServerConfig) {
	if c.state != StateAskingJoin && c.state != StateWaitingJoinResponse {
		return
	}
	c.store = ticcmd.NewStore()
	c.game = lockstep.NewGame(c.opts.NewSim(m.Seed), c.store, c.opts.Log)
	c.game.SetListener(sessionEvents{c})
	c.node = int(m.ClientNode)
	c.slots = make([]int, c.cfg.LocalPlayers)
	for i := range c.slots {
		c.slots[i] = -1
	}
	c.slots[0] = int(m.ServerPlayer)
	c.numSlots = int(m.TotalSlots)
	c.neededTic = tic.Tic(m.Tic)
	c.context = m.Context
	c.pings.MaxPing = m.MaxPing
	c.log.WithFields(logrus.Fields{
		"node": c.node, "slot": m.ServerPlayer, "tic": m.Tic, "slots": m.TotalSlots, "context": string(m.Context[:]),
	}).Info("joined server")
	if m.SaveGameFollows {
		c.receiver.Forget(messages.SaveGameFileID)
		c.enter(StateDownloadingSaveGame)
		return
	}
	c.enter(StateConnected)
}
