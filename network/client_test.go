package network

import (
	"io"
	"net/netip"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/config"
	"github.com/automoto/kartsync/network/transport/loopback"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/ticcmd"
)

func TestRefusalText(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"B|griefing", "You have been banned: griefing"},
		{"K|spam\n4 minutes", "You have been temporarily kicked: spam (4 minutes remaining)"},
		{"K|spam", "You have been temporarily kicked: spam"},
		{"Bad player name", "Bad player name"},
	}
	for _, tt := range tests {
		if got := RefusalText(tt.reason); got != tt.want {
			t.Errorf("RefusalText(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestManualPrompter(t *testing.T) {
	var p ManualPrompter
	if _, done := p.Answer(); done {
		t.Fatal("answered before asking")
	}
	p.Ask(ConfirmRequest{ServerName: "Track", DownloadBytes: 2048})
	req, ok := p.Pending()
	if !ok || req.ServerName != "Track" {
		t.Fatalf("pending = %+v, %v", req, ok)
	}
	if _, done := p.Answer(); done {
		t.Fatal("answered before Decide")
	}
	p.Decide(true)
	if _, ok := p.Pending(); ok {
		t.Error("request still pending after Decide")
	}
	accept, done := p.Answer()
	if !accept || !done {
		t.Fatalf("Answer = %v, %v", accept, done)
	}
	if _, done := p.Answer(); done {
		t.Error("answer delivered twice")
	}
}

func sessionClient(t *testing.T) *Client {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	hub := loopback.NewHub()
	c := NewClient(config.DefaultClient(), hub.Endpoint(netip.MustParseAddr("10.0.0.2")), Options{Log: log})
	c.state = StateWaitingJoinResponse
	c.handleServerConfig(messages.ServerConfig{ServerPlayer: 1, ClientNode: 1, TotalSlots: 2, Seed: 3})
	if c.state != StateConnected {
		t.Fatalf("state = %s", c.state)
	}
	return c
}

func batch(start uint8, numTics int, forward int8) messages.ServerTics {
	m := messages.ServerTics{StartTic: start, NumTics: uint8(numTics), NumSlots: 2, Text: make([][]messages.SlotText, numTics)}
	for i := 0; i < numTics*2; i++ {
		m.Cmds = append(m.Cmds, ticcmd.TicCmd{Forward: forward + int8(i)})
	}
	return m
}

func TestHandleTicsDuplicatesAndGaps(t *testing.T) {
	c := sessionClient(t)

	c.handleTics(batch(0, 3, 10))
	if c.neededTic != 3 {
		t.Fatalf("needed = %d, want 3", c.neededTic)
	}
	if got := c.store.Cmd(1, 1).Forward; got != 13 {
		t.Fatalf("tic 1 slot 1 forward = %d, want 13", got)
	}

	c.handleTics(batch(0, 3, 50))
	if c.neededTic != 3 || c.missed {
		t.Fatalf("duplicate batch changed state: needed %d missed %v", c.neededTic, c.missed)
	}
	if got := c.store.Cmd(1, 1).Forward; got != 13 {
		t.Errorf("duplicate batch overwrote tic 1: forward %d", got)
	}

	c.handleTics(batch(5, 2, 0))
	if !c.missed || c.neededTic != 3 {
		t.Fatalf("gap not detected: needed %d missed %v", c.neededTic, c.missed)
	}

	// An overlapping batch only fills the tics past the needed one.
	c.handleTics(batch(2, 4, 20))
	if c.neededTic != 6 {
		t.Fatalf("needed = %d, want 6", c.neededTic)
	}
	if got := c.store.Cmd(2, 0).Forward; got != 14 {
		t.Errorf("tic 2 overwritten: forward %d", got)
	}
	if got := c.store.Cmd(3, 0).Forward; got != 22 {
		t.Errorf("tic 3 slot 0 forward = %d, want 22", got)
	}
}

func TestHandleTicsWrapsStartTic(t *testing.T) {
	c := sessionClient(t)
	for c.game.Tic() < 254 {
		c.game.RunTic()
	}
	c.neededTic = 254

	c.handleTics(batch(254, 4, 1))
	if c.neededTic != 258 {
		t.Fatalf("needed = %d, want 258", c.neededTic)
	}
	if got := c.store.Cmd(257, 1).Forward; got != 8 {
		t.Errorf("tic 257 slot 1 forward = %d, want 8", got)
	}
}

func TestHandleTicsClampsToBackupWindow(t *testing.T) {
	c := sessionClient(t)
	c.handleTics(batch(0, 40, 0))
	if c.neededTic != 32 {
		t.Fatalf("needed = %d, want the backup window of 32", c.neededTic)
	}
}

func TestKickText(t *testing.T) {
	if got := kickText(netconfig.KickCustomKick, "no cheating"); !strings.Contains(got, "no cheating") {
		t.Errorf("custom kick text %q", got)
	}
}
