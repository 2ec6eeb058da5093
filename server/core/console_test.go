package core_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/automoto/kartsync/console"
	"github.com/automoto/kartsync/server/core"
	"github.com/automoto/kartsync/shared/messages"
)

func TestConsoleCommands(t *testing.T) {
	r := newRig(t, testServerConfig())
	con := console.New(quietLogger())
	r.server.RegisterCommands(con)
	r.step(2)
	p := r.connect("Alice")
	slot := p.client.Slots()[0]

	if err := con.Execute("banip 10.3.0.0/16 bots"); err != nil {
		t.Fatal(err)
	}
	if got := r.server.Bans(); len(got) != 1 || got[0].Reason != "bots" {
		t.Fatalf("bans = %+v", got)
	}
	if err := con.Execute("clearbans"); err != nil || len(r.server.Bans()) != 0 {
		t.Fatalf("clearbans: %v, %d left", err, len(r.server.Bans()))
	}

	if err := con.Execute("kick Nobody"); !errors.Is(err, core.ErrNoSuchPlayer) {
		t.Fatalf("kick of unknown player: %v", err)
	}
	if err := con.Execute("kick"); err == nil || !strings.HasPrefix(err.Error(), "usage:") {
		t.Fatalf("bare kick: %v", err)
	}
	if err := con.Execute("kick 0"); !errors.Is(err, core.ErrKickHost) {
		t.Fatalf("kick host: %v", err)
	}

	r.sent.reset()
	if err := con.Execute("resendgamestate Alice"); err != nil {
		t.Fatal(err)
	}
	r.until(100, "resend", func() bool {
		return r.sent.count(p.client.Node(), isType(messages.TypeWillResendGameState)) == 1 &&
			p.client.Game().Tic() > 0 && !r.server.Nodes()[0].Resend
	})

	if err := con.Execute(`kick Alice "be nice"`); err != nil {
		t.Fatal(err)
	}
	r.until(20, "kick", func() bool { return !r.server.Game().InGame(slot) })
	if err := p.client.Err(); err == nil || !strings.Contains(err.Error(), "be nice") {
		t.Errorf("client error = %v", err)
	}

	if err := con.Execute("allowjoin off"); err != nil {
		t.Fatal(err)
	}
	if got := r.server.Info(0).RefuseReason; got != core.ReasonNotAllowed {
		t.Errorf("refuse reason = %q", got)
	}
}
