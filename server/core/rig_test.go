package core_test

import (
	"fmt"
	"io"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/config"
	"github.com/automoto/kartsync/network"
	"github.com/automoto/kartsync/network/transport"
	"github.com/automoto/kartsync/network/transport/loopback"
	"github.com/automoto/kartsync/server/core"
	"github.com/automoto/kartsync/shared/filetx"
	"github.com/automoto/kartsync/shared/lockstep"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/protocol"
	"github.com/automoto/kartsync/shared/sim"
)

const serverAddress = "kart.test:5029"

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type sent struct {
	node int
	msg  messages.Message
}

// recorder wraps a transport and decodes everything sent through it.
type recorder struct {
	transport.Transport
	mu  sync.Mutex
	log []sent
}

func (r *recorder) Send(node int, data []byte, reliable bool) error {
	if msg, err := protocol.Decode(data); err == nil {
		r.mu.Lock()
		r.log = append(r.log, sent{node, msg})
		r.mu.Unlock()
	}
	return r.Transport.Send(node, data, reliable)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.log = nil
	r.mu.Unlock()
}

// count returns how many messages to node match keep.
func (r *recorder) count(node int, keep func(messages.Message) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.log {
		if (node < 0 || s.node == node) && keep(s.msg) {
			n++
		}
	}
	return n
}

func (r *recorder) last(node int, keep func(messages.Message) bool) (messages.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.log) - 1; i >= 0; i-- {
		if s := r.log[i]; s.node == node && keep(s.msg) {
			return s.msg, true
		}
	}
	return nil, false
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type player struct {
	client   *network.Client
	endpoint *loopback.Endpoint
	world    *sim.World
	content  filetx.DirStore
}

type rig struct {
	t      *testing.T
	hub    *loopback.Hub
	clock  *fakeClock
	server *core.Server
	sent   *recorder
	peers  []*player
	nextIP int
}

func testServerConfig() config.Server {
	cfg := config.DefaultServer()
	cfg.Dedicated = false
	cfg.MaxPlayers = netconfig.MaxPlayers
	cfg.JoinDelay = 0
	cfg.Seed = 7
	cfg.BanFile = ""
	return cfg
}

func newRig(t *testing.T, cfg config.Server) *rig {
	t.Helper()
	return newRigContent(t, cfg, t.TempDir())
}

// newRigContent serves the content files found in dir.
func newRigContent(t *testing.T, cfg config.Server, dir string) *rig {
	t.Helper()
	hub := loopback.NewHub()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rec := &recorder{Transport: hub.Listen(serverAddress, netip.MustParseAddr("10.0.0.1"))}
	srv, err := core.NewServer(cfg, rec, core.Options{
		Clock:   clock,
		Log:     quietLogger(),
		Content: filetx.DirStore{Dir: dir},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &rig{t: t, hub: hub, clock: clock, server: srv, sent: rec, nextIP: 10}
}

// join creates a client with the given local player names and starts it
// connecting.
func (r *rig) join(names ...string) *player {
	r.t.Helper()
	r.nextIP++
	ep := r.hub.Endpoint(netip.MustParseAddr(fmt.Sprintf("10.0.1.%d", r.nextIP)))
	cfg := config.DefaultClient()
	cfg.Names = names
	cfg.LocalPlayers = len(names)
	cfg.AutoConfirm = true
	p := &player{endpoint: ep, content: filetx.DirStore{Dir: r.t.TempDir()}}
	p.client = network.NewClient(cfg, ep, network.Options{
		Clock:   r.clock,
		Log:     quietLogger(),
		Content: p.content,
		NewSim: func(seed uint32) lockstep.Simulation {
			p.world = sim.NewWorld(seed)
			return p.world
		},
	})
	p.client.Connect(serverAddress)
	r.peers = append(r.peers, p)
	return p
}

// step runs n frames of one tic each, server first.
func (r *rig) step(n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		r.clock.Advance(netconfig.TicDuration)
		if err := r.server.Update(); err != nil {
			r.t.Fatalf("server update: %v", err)
		}
		for _, p := range r.peers {
			if err := p.client.Update(); err != nil {
				r.t.Fatalf("client update: %v", err)
			}
		}
	}
}

// until steps until cond holds, failing after limit frames.
func (r *rig) until(limit int, what string, cond func() bool) {
	r.t.Helper()
	for i := 0; i < limit; i++ {
		if cond() {
			return
		}
		r.step(1)
	}
	if !cond() {
		r.t.Fatalf("gave up waiting for %s after %d frames", what, limit)
	}
}

// connect joins a client and waits until all of its players are seated.
func (r *rig) connect(names ...string) *player {
	r.t.Helper()
	p := r.join(names...)
	r.until(200, "join of "+names[0], func() bool {
		if p.client.State() != network.StateConnected {
			return false
		}
		for _, slot := range p.client.Slots() {
			if slot < 0 || !r.server.Game().InGame(slot) || !p.client.Game().InGame(slot) {
				return false
			}
		}
		return true
	})
	return p
}

func isType(t messages.PacketType) func(messages.Message) bool {
	return func(m messages.Message) bool { return m.Type() == t }
}
