package core_test

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/automoto/kartsync/network"
	"github.com/automoto/kartsync/network/transport/loopback"
	"github.com/automoto/kartsync/server/core"
	"github.com/automoto/kartsync/shared/bans"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/protocol"
	"github.com/automoto/kartsync/shared/xcmd"
)

func TestJoinTwoLocalPlayers(t *testing.T) {
	r := newRig(t, testServerConfig())
	r.step(5)
	if got := r.server.NumSlots(); got != 1 {
		t.Fatalf("slots before join = %d, want 1", got)
	}

	p := r.connect("Alice", "Bob")

	if got := p.client.Slots(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("client slots = %v, want [1 2]", got)
	}
	msg, ok := r.sent.last(p.client.Node(), isType(messages.TypeServerConfig))
	if !ok {
		t.Fatal("no ServerConfig sent")
	}
	if cfg := msg.(messages.ServerConfig); cfg.TotalSlots != 3 || cfg.ServerPlayer != 1 {
		t.Fatalf("ServerConfig = %+v, want 3 slots starting at 1", cfg)
	}
	for slot, name := range map[int]string{1: "Alice", 2: "Bob"} {
		sp := r.server.Game().Player(slot)
		cp := p.client.Game().Player(slot)
		if sp.Name != name || cp.Name != name || sp.Node != p.client.Node() || sp.Split != slot-1 {
			t.Errorf("slot %d: server %+v client %+v, want %s", slot, sp, cp, name)
		}
	}
	if got := r.server.NumSlots(); got != 3 {
		t.Errorf("slots after join = %d, want 3", got)
	}
}

func TestJoinRefusedWhenFull(t *testing.T) {
	r := newRig(t, testServerConfig())
	r.step(2)
	r.connect("A1", "A2", "A3", "A4")
	r.connect("B1", "B2", "B3", "B4")
	r.connect("C1", "C2", "C3", "C4")
	r.connect("D1", "D2", "D3")
	if got := r.server.PlayerCount(); got != netconfig.MaxPlayers {
		t.Fatalf("players = %d, want %d", got, netconfig.MaxPlayers)
	}

	late := r.join("Late")
	r.until(200, "refusal", func() bool { return late.client.LastRefusal() != "" })
	if got, want := late.client.LastRefusal(), "Maximum players reached: 16"; got != want {
		t.Fatalf("refusal = %q, want %q", got, want)
	}
	r.step(3)
	if late.client.State() != network.StateAskingJoin || !late.client.Active() {
		t.Fatalf("client state = %s, want %s", late.client.State(), network.StateAskingJoin)
	}
	if got := r.server.PlayerCount(); got != netconfig.MaxPlayers {
		t.Errorf("players after refusal = %d", got)
	}
}

func TestTimeoutKickFreesSlots(t *testing.T) {
	cfg := testServerConfig()
	cfg.NetTimeout = 2e9
	r := newRig(t, cfg)
	r.step(2)
	stalled := r.connect("Stalled", "Stalled2")
	other := r.connect("Other")
	slots := append([]int(nil), stalled.client.Slots()...)

	stalled.endpoint.SetStalled(true)
	r.until(200, "timeout kick", func() bool { return !r.server.Game().InGame(slots[0]) })

	for _, slot := range slots {
		if r.server.Game().InGame(slot) {
			t.Errorf("server slot %d still in game", slot)
		}
	}
	r.until(50, "removal reaches other client", func() bool {
		return !other.client.Game().InGame(slots[0]) && !other.client.Game().InGame(slots[1])
	})

	next := r.connect("Next")
	if got := next.client.Slots()[0]; got != slots[0] {
		t.Errorf("new player got slot %d, want freed slot %d", got, slots[0])
	}
}

func TestUnauthorizedKickTargetsSender(t *testing.T) {
	cfg := testServerConfig()
	cfg.Bots = 5
	r := newRig(t, cfg)
	r.step(2)
	p := r.connect("Mallory")
	if !r.server.Game().InGame(5) {
		t.Fatal("slot 5 should hold a bot")
	}
	slot := p.client.Slots()[0]

	if err := p.client.SendCommand(0, xcmd.Kick{Target: 5, Reason: netconfig.KickGoAway}); err != nil {
		t.Fatal(err)
	}
	r.until(50, "kick", func() bool { return !r.server.Game().InGame(slot) })

	if !r.server.Game().InGame(5) {
		t.Error("slot 5 was removed")
	}
	var abort *network.AbortError
	if !errors.As(p.client.Err(), &abort) || !strings.Contains(abort.Reason, "synchronization failure") {
		t.Errorf("client error = %v, want a synchronization failure kick", p.client.Err())
	}
}

func TestConsistencyRecoverySendsOneSnapshot(t *testing.T) {
	r := newRig(t, testServerConfig())
	r.step(2)
	p := r.connect("Drifter")
	node := p.client.Node()
	r.step(10)
	r.sent.reset()

	p.world.Perturb(0xdeadbeef)
	r.until(100, "resync", func() bool {
		return r.sent.count(node, isType(messages.TypeWillResendGameState)) > 0 &&
			p.client.State() == network.StateConnected
	})
	r.step(40)

	if got := r.sent.count(node, isType(messages.TypeWillResendGameState)); got != 1 {
		t.Errorf("resend offers = %d, want 1", got)
	}
	snapshots := r.sent.count(node, func(m messages.Message) bool {
		f, ok := m.(messages.FileFragment)
		return ok && f.FileID == messages.SaveGameFileID && f.Offset == 0
	})
	if snapshots != 1 {
		t.Errorf("snapshots sent = %d, want 1", snapshots)
	}
	ct := p.client.Game().Tic()
	if got, want := p.client.Game().Consistency(ct), r.server.Game().Consistency(ct); got != want {
		t.Errorf("tic %d: client token %04x, server %04x", ct, got, want)
	}
}

func TestResyncDisabledKicks(t *testing.T) {
	cfg := testServerConfig()
	cfg.ResyncAttempts = 0
	r := newRig(t, cfg)
	r.step(2)
	p := r.connect("Drifter")
	slot := p.client.Slots()[0]
	r.step(5)

	p.world.Perturb(1)
	r.until(100, "kick", func() bool { return !r.server.Game().InGame(slot) })
	if err := p.client.Err(); err == nil || !strings.Contains(err.Error(), "synchronization failure") {
		t.Errorf("client error = %v", err)
	}
}

// rawJoin sends a join request from a bare endpoint and returns the reply.
func rawJoin(t *testing.T, r *rig, addr string, join messages.ClientJoin) messages.Message {
	t.Helper()
	ep := r.hub.Endpoint(netip.MustParseAddr(addr))
	node, err := ep.Open(context.Background(), serverAddress)
	if err != nil {
		t.Fatal(err)
	}
	data, err := protocol.Encode(join)
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Send(node, data, true); err != nil {
		t.Fatal(err)
	}
	r.step(1)
	for {
		p, ok := ep.Poll()
		if !ok {
			t.Fatal("no reply to join")
		}
		if p.Closed {
			continue
		}
		msg, err := protocol.Decode(p.Data)
		if err != nil {
			t.Fatal(err)
		}
		return msg
	}
}

func goodJoin() messages.ClientJoin {
	return messages.ClientJoin{
		PacketVersion: netconfig.PacketVersion,
		Application:   netconfig.Application,
		Version:       netconfig.Version,
		Subversion:    netconfig.Subversion,
		LocalPlayers:  1,
		Names:         []string{"Raw"},
	}
}

func TestAdmissionCheckOrder(t *testing.T) {
	r := newRig(t, testServerConfig())
	r.server.BanAddress(netip.MustParsePrefix("10.9.0.0/16"), "cheating")
	r.step(2)

	tests := []struct {
		name   string
		addr   string
		modify func(*messages.ClientJoin)
		want   string
	}{
		{"banned and wrong version", "10.9.1.1", func(j *messages.ClientJoin) { j.Version++ }, "B|cheating"},
		{"wrong packet and application", "10.8.0.1", func(j *messages.ClientJoin) { j.PacketVersion++; j.Application = "x" }, core.ReasonPacketVersion},
		{"wrong application", "10.8.0.2", func(j *messages.ClientJoin) { j.Application = "x" }, core.ReasonApplication},
		{"no players and bad name", "10.8.0.3", func(j *messages.ClientJoin) { j.LocalPlayers = 0; j.Names = []string{""} }, core.ReasonSplitscreen},
		{"too many players", "10.8.0.4", func(j *messages.ClientJoin) { j.LocalPlayers = 5; j.Names = make([]string, 5) }, core.ReasonSplitscreen},
		{"bad name", "10.8.0.5", func(j *messages.ClientJoin) { j.Names = []string{"   "} }, core.ReasonBadName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			join := goodJoin()
			tt.modify(&join)
			msg := rawJoin(t, r, tt.addr, join)
			refuse, ok := msg.(messages.ServerRefuse)
			if !ok {
				t.Fatalf("reply %T, want ServerRefuse", msg)
			}
			if refuse.Reason != tt.want {
				t.Errorf("reason %q, want %q", refuse.Reason, tt.want)
			}
		})
	}
}

func TestTemporaryBanRefusal(t *testing.T) {
	cfg := testServerConfig()
	cfg.KickBanDuration = 10 * 60e9
	r := newRig(t, cfg)
	r.step(2)
	p := r.connect("Rude")
	slot := p.client.Slots()[0]
	if err := r.server.KickSlot(slot, netconfig.KickCustomKick, "spam"); err != nil {
		t.Fatal(err)
	}
	r.until(20, "kick", func() bool { return !r.server.Game().InGame(slot) })
	if err := p.client.Err(); err == nil || !strings.Contains(err.Error(), "spam") {
		t.Errorf("client error = %v, want the kick message", err)
	}
	records := r.server.Bans()
	if len(records) != 1 || records[0].Permanent() || records[0].Username != "Rude" {
		t.Fatalf("bans = %+v, want one temporary ban of Rude", records)
	}

	msg := rawJoin(t, r, "10.0.1.11", goodJoin())
	refuse, ok := msg.(messages.ServerRefuse)
	if !ok || !strings.HasPrefix(refuse.Reason, "K|spam\n") {
		t.Fatalf("reply %+v, want a K| refusal", msg)
	}
	if got := network.RefusalText(refuse.Reason); !strings.Contains(got, "temporarily kicked: spam") {
		t.Errorf("refusal text %q", got)
	}
}

func TestJoinDelayThrottles(t *testing.T) {
	cfg := testServerConfig()
	cfg.JoinDelay = 1
	r := newRig(t, cfg)
	r.step(2)
	for i, addr := range []string{"10.7.0.1", "10.7.0.2", "10.7.0.3"} {
		join := goodJoin()
		join.Names = []string{"P" + string(rune('a'+i))}
		msg := rawJoin(t, r, addr, join)
		if _, ok := msg.(messages.ServerConfig); !ok {
			t.Fatalf("join %d: reply %+v, want ServerConfig", i, msg)
		}
	}
	// Three joins in a row push the cooldown past twice the per-join delay.
	join := goodJoin()
	join.Names = []string{"Pd"}
	msg := rawJoin(t, r, "10.7.0.4", join)
	if refuse, ok := msg.(messages.ServerRefuse); !ok || refuse.Reason != core.ReasonJoinDelay {
		t.Fatalf("reply %+v, want join delay refusal", msg)
	}
}

func TestAdminLogin(t *testing.T) {
	cfg := testServerConfig()
	cfg.AdminPassword = "hunter2"
	cfg.Bots = 1
	r := newRig(t, cfg)
	r.step(2)
	p := r.connect("Admin")
	slot := p.client.Slots()[0]

	if err := p.client.Login("wrong"); err != nil {
		t.Fatal(err)
	}
	r.step(10)
	if r.server.Game().Player(slot).Admin {
		t.Fatal("wrong password granted admin")
	}
	if err := p.client.Login("hunter2"); err != nil {
		t.Fatal(err)
	}
	r.until(20, "admin", func() bool { return p.client.Game().Player(slot).Admin })

	// An admin may kick others.
	if err := p.client.SendCommand(0, xcmd.Kick{Target: 1, Reason: netconfig.KickGoAway}); err != nil {
		t.Fatal(err)
	}
	r.until(20, "bot kick", func() bool { return !r.server.Game().InGame(1) })
	if !r.server.Game().InGame(slot) {
		t.Error("admin was removed")
	}
}

func TestPingBroadcast(t *testing.T) {
	r := newRig(t, testServerConfig())
	r.step(2)
	p := r.connect("Pinger")
	r.step(2 * netconfig.TicRate)
	if r.sent.count(p.client.Node(), isType(messages.TypePing)) == 0 {
		t.Fatal("no ping table sent")
	}
	if got, want := p.client.Pings(), r.server.Pings(); got != want || got.MaxPing != 800 {
		t.Fatalf("client ping table %+v, server %+v", got, want)
	}
}

func TestBanFileStore(t *testing.T) {
	path := t.TempDir() + "/ban.txt"
	store := bans.FileStore{Path: path}
	if err := store.Save([]bans.Record{{Prefix: netip.MustParsePrefix("10.1.2.3/32"), Reason: "old"}}); err != nil {
		t.Fatal(err)
	}
	ep := loopback.NewHub().Listen(serverAddress, netip.MustParseAddr("10.0.0.1"))
	srv, err := core.NewServer(testServerConfig(), ep, core.Options{Clock: &fakeClock{}, Log: quietLogger(), BanStore: store})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(srv.Bans()); got != 1 {
		t.Fatalf("loaded %d bans, want 1", got)
	}
	srv.BanAddress(netip.MustParsePrefix("10.5.0.0/16"), "range")
	records, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("stored %d bans, want 2", len(records))
	}
	srv.ClearBans()
	if records, _ := store.Load(); len(records) != 0 {
		t.Errorf("stored %d bans after clear", len(records))
	}
}

func TestJoinDownloadsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	track := bytes.Repeat([]byte("kart"), 1500)
	if err := os.WriteFile(filepath.Join(dir, "track.dat"), track, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testServerConfig()
	cfg.Files = []string{"track.dat"}
	r := newRigContent(t, cfg, dir)
	r.step(2)

	p := r.connect("Downloader")
	got, err := p.content.Load("track.dat")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, track) {
		t.Fatalf("downloaded %d bytes, want %d", len(got), len(track))
	}
	if n := r.sent.count(-1, isType(messages.TypeFileFragment)); n < 6 {
		t.Errorf("sent %d fragments, want at least 6", n)
	}

	// A second client that already has the file joins without a transfer.
	r.sent.reset()
	again := r.join("Again")
	if err := again.content.Save("track.dat", track); err != nil {
		t.Fatal(err)
	}
	r.until(200, "second join", func() bool { return again.client.State() == network.StateConnected })
	if n := r.sent.count(-1, func(m messages.Message) bool {
		f, ok := m.(messages.FileFragment)
		return ok && f.FileID != messages.SaveGameFileID
	}); n != 0 {
		t.Errorf("sent %d content fragments to a client that had the file", n)
	}
}
