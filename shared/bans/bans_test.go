package bans

import (
	"bytes"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMatchAndExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var l List
	l.Add(Record{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Reason: "range"})
	l.Add(Record{Prefix: HostPrefix(netip.MustParseAddr("192.168.1.9")), Expires: now.Add(time.Minute)})

	if r, ok := l.Match(netip.MustParseAddr("10.20.30.40"), now); !ok || r.Reason != "range" {
		t.Fatalf("range ban not matched")
	}
	if _, ok := l.Match(netip.MustParseAddr("::ffff:10.1.1.1"), now); !ok {
		t.Fatalf("mapped address not matched")
	}
	if _, ok := l.Match(netip.MustParseAddr("192.168.1.9"), now.Add(30*time.Second)); !ok {
		t.Fatalf("temporary ban not matched before expiry")
	}
	if _, ok := l.Match(netip.MustParseAddr("192.168.1.9"), now.Add(2*time.Minute)); ok {
		t.Fatalf("expired ban matched")
	}
	if n := l.Prune(now.Add(2 * time.Minute)); n != 1 || l.Len() != 1 {
		t.Fatalf("prune dropped %d, %d left", n, l.Len())
	}
}

func TestAddRefreshesSamePrefix(t *testing.T) {
	var l List
	p := netip.MustParsePrefix("1.2.3.4/24")
	l.Add(Record{Prefix: p, Reason: "first"})
	l.Add(Record{Prefix: netip.MustParsePrefix("1.2.3.0/24"), Reason: "second"})
	if l.Len() != 1 || l.Records()[0].Reason != "second" {
		t.Fatalf("records = %+v", l.Records())
	}
	if !l.Remove(p) || l.Len() != 0 {
		t.Fatalf("remove failed")
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	in := []Record{
		{Prefix: HostPrefix(netip.MustParseAddr("203.0.113.7")), Username: "Eggman", Reason: `said "hi"`},
		{Prefix: netip.MustParsePrefix("198.51.100.0/24"), Expires: time.Unix(1_800_000_000, 0), Reason: "flood"},
	}
	var buf bytes.Buffer
	if err := Format(&buf, in); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), Header+"\n") {
		t.Fatalf("missing header: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "203.0.113.7 0 \"Eggman\"") {
		t.Fatalf("unexpected line layout: %q", buf.String())
	}
	out, err := Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("parsed %d records", len(out))
	}
	if out[0].Prefix != in[0].Prefix || out[0].Username != "Eggman" || out[0].Reason != `said "hi"` || !out[0].Permanent() {
		t.Fatalf("first record = %+v", out[0])
	}
	if !out[1].Expires.Equal(in[1].Expires) || out[1].Prefix != in[1].Prefix {
		t.Fatalf("second record = %+v", out[1])
	}
}

func TestParseLegacy(t *testing.T) {
	out, err := Parse(strings.NewReader("1.2.3.4 griefing the lobby\n5.6.7.0/24\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Reason != "griefing the lobby" || !out[0].Permanent() || out[0].Username != "" {
		t.Fatalf("legacy records = %+v", out)
	}
	if out[1].Prefix.Bits() != 24 {
		t.Fatalf("legacy mask lost: %v", out[1].Prefix)
	}
}

func TestParseRejectsBadLine(t *testing.T) {
	if _, err := Parse(strings.NewReader(Header + "\nnot-an-address 0\n")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFileStore(t *testing.T) {
	s := FileStore{Path: filepath.Join(t.TempDir(), "sub", "ban.txt")}
	recs, err := s.Load()
	if err != nil || recs != nil {
		t.Fatalf("missing file = %v, %v", recs, err)
	}
	want := []Record{{Prefix: HostPrefix(netip.MustParseAddr("127.0.0.2")), Reason: "test"}}
	if err := s.Save(want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil || len(got) != 1 || got[0].Reason != "test" {
		t.Fatalf("load = %+v, %v", got, err)
	}
}

func TestFormatRemaining(t *testing.T) {
	if got := FormatRemaining(90 * time.Second); got != "1 minutes, 30 seconds" {
		t.Fatalf("got %q", got)
	}
	if got := FormatRemaining(26 * time.Hour); got != "1 days, 2 hours" {
		t.Fatalf("got %q", got)
	}
}
