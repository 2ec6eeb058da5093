package console

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSplit(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"kick 3", []string{"kick", "3"}},
		{`ban  4 "too   fast"`, []string{"ban", "4", "too   fast"}},
		{`1.2.3.4 0 "" "x"`, []string{"1.2.3.4", "0", "", "x"}},
		{`say "a \"quoted\" word"`, []string{"say", `a "quoted" word`}},
		{"   ", nil},
	}
	for _, tt := range tests {
		if got := Split(tt.line); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Split(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	in := `he said "hi" \o/`
	got := Split("x " + Quote(in))
	if len(got) != 2 || got[1] != in {
		t.Fatalf("round trip = %q", got)
	}
}

func TestExecute(t *testing.T) {
	c := New(quiet())
	var got []string
	c.Register("Kick", "kick <target> [reason]", func(args []string) error {
		if len(args) == 0 {
			return ErrUsage
		}
		got = args
		return nil
	})

	if err := c.Execute(`KICK 2 "go away"`); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"2", "go away"}) {
		t.Fatalf("args = %q", got)
	}
	if err := c.Execute("kick"); err == nil || !strings.Contains(err.Error(), "usage: kick") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := c.Execute("nope"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if err := c.Execute(""); err != nil {
		t.Fatalf("blank line: %v", err)
	}
}

func TestLines(t *testing.T) {
	ch := Lines(context.Background(), strings.NewReader("nodes\r\nkick 1\npartial"), quiet())
	var lines []string
	for l := range ch {
		lines = append(lines, l)
	}
	if !reflect.DeepEqual(lines, []string{"nodes", "kick 1", "partial"}) {
		t.Fatalf("lines = %q", lines)
	}
}
