package config

import (
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLoadServerFromEnv(t *testing.T) {
	t.Setenv("KART_MAX_PLAYERS", "12")
	t.Setenv("KART_DEDICATED", "false")
	t.Setenv("KART_NET_TIMEOUT", "3s")
	t.Setenv("KART_FILES", "a.pk3, b.pk3,")
	t.Setenv("KART_SEED", "0x10")
	t.Setenv("KART_RESYNC_ATTEMPTS", "lots")

	c := LoadServer(quiet())
	if c.MaxPlayers != 12 || c.Dedicated || c.NetTimeout != 3*time.Second || c.Seed != 16 {
		t.Fatalf("unexpected config %+v", c)
	}
	if !reflect.DeepEqual(c.Files, []string{"a.pk3", "b.pk3"}) {
		t.Fatalf("files = %q", c.Files)
	}
	if c.ResyncAttempts != DefaultServer().ResyncAttempts {
		t.Fatalf("invalid value should fall back to the default")
	}
}

func TestLoadClientDefaults(t *testing.T) {
	c := LoadClient(quiet())
	if c.JoinRetry != 3*time.Second || c.JoinCeiling != 5*time.Minute || c.LocalPlayers != 1 {
		t.Fatalf("unexpected defaults %+v", c)
	}
}
