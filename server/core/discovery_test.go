package core

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/automoto/kartsync/shared/bans"
)

func TestDiscoveryLimiter(t *testing.T) {
	d := newDiscoveryLimiter(1, 2)
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !d.allow(a, now) || !d.allow(a, now) {
		t.Fatal("burst not allowed")
	}
	if d.allow(a, now) {
		t.Fatal("third request in the same instant allowed")
	}
	if !d.allow(b, now) {
		t.Fatal("other address limited")
	}
	if !d.allow(a, now.Add(time.Second)) {
		t.Fatal("token not refilled after a second")
	}
}

func TestDiscoveryLimiterDisabled(t *testing.T) {
	d := newDiscoveryLimiter(0, 0)
	a := netip.MustParseAddr("10.0.0.1")
	for i := 0; i < 100; i++ {
		if !d.allow(a, time.Time{}) {
			t.Fatal("disabled limiter refused")
		}
	}
}

func TestBanReason(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := banReason(bans.Record{Reason: "cheating"}, now); got != "B|cheating" {
		t.Errorf("permanent = %q", got)
	}
	if got := banReason(bans.Record{}, now); got != "B|No reason given" {
		t.Errorf("no reason = %q", got)
	}
	got := banReason(bans.Record{Reason: "spam", Expires: now.Add(90 * time.Second)}, now)
	if !strings.HasPrefix(got, "K|spam\n") || len(got) == len("K|spam\n") {
		t.Errorf("temporary = %q", got)
	}
}
