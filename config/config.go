// Package config holds the tunables of the server and client binaries.
// Defaults are overridden by KART_* environment variables (a .env file in
// the working directory is read first), then by command-line flags in main.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Server configures the authoritative server.
type Server struct {
	Name      string
	Listen    string
	Dedicated bool
	// HostName is the local player's name when not dedicated.
	HostName string

	MaxPlayers int
	AllowJoin  bool
	// JoinDelay is the per-join admission cooldown in seconds.
	JoinDelay int

	// MaxPing is the latency threshold in milliseconds. Zero disables
	// ping kicks.
	MaxPing uint32
	// PingTimeout is how many seconds over MaxPing a player may spend
	// before being kicked.
	PingTimeout int
	// NetTimeout disconnects a node that has been silent this long.
	NetTimeout time.Duration
	// JoinTimeout is the extra grace a joining node gets while loading.
	JoinTimeout time.Duration

	// ResyncAttempts is how many resends a diverging node gets before it
	// is kicked. Zero kicks on the first mismatch.
	ResyncAttempts int
	// KickBanDuration leaves a temporary ban behind administrative kicks.
	KickBanDuration time.Duration

	AdminPassword string

	BanFile  string
	BanStore string

	ContentDir string
	Files      []string
	HTTPSource string

	SoftPacketLength int
	ExtraTics        int

	GameType uint8
	MapName  string
	Seed     uint32
	Bots     int

	MasterURL     string
	PublicAddress string
	Region        string

	// DiscoveryRate limits AskInfo replies per address per second.
	DiscoveryRate  float64
	DiscoveryBurst int
}

// Client configures a joining client.
type Client struct {
	Address      string
	Names        []string
	LocalPlayers int

	ContentDir   string
	HTTPDownload bool
	// AutoConfirm skips the download confirmation prompt.
	AutoConfirm bool

	SearchRetry time.Duration
	JoinRetry   time.Duration
	FullRetry   time.Duration
	// JoinCeiling caps the total time spent asking to join.
	JoinCeiling time.Duration
	// InactivityTimeout aborts a connection attempt that hears nothing.
	InactivityTimeout time.Duration

	MasterURL     string
	AdminPassword string
}

func DefaultServer() Server {
	return Server{
		Name:             "KartSync Server",
		Listen:           ":5029",
		Dedicated:        true,
		HostName:         "Host",
		MaxPlayers:       8,
		AllowJoin:        true,
		JoinDelay:        10,
		MaxPing:          800,
		PingTimeout:      10,
		NetTimeout:       10 * time.Second,
		JoinTimeout:      6 * time.Second,
		ResyncAttempts:   2,
		BanFile:          "ban.txt",
		BanStore:         "file",
		ContentDir:       "addons",
		SoftPacketLength: 1024,
		ExtraTics:        1,
		MapName:          "MAP01",
		Seed:             0x5eed,
		MasterURL:        "",
		Region:           "unknown",
		DiscoveryRate:    2,
		DiscoveryBurst:   4,
	}
}

func DefaultClient() Client {
	return Client{
		Names:             []string{"Player"},
		LocalPlayers:      1,
		ContentDir:        "addons",
		HTTPDownload:      true,
		SearchRetry:       time.Second,
		JoinRetry:         3 * time.Second,
		FullRetry:         7 * time.Second,
		JoinCeiling:       5 * time.Minute,
		InactivityTimeout: 10 * time.Second,
	}
}

// LoadDotEnv reads a .env file if present.
func LoadDotEnv(log logrus.FieldLogger) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("could not read .env")
	}
}

// LoadServer returns the defaults overridden by the environment.
func LoadServer(log logrus.FieldLogger) Server {
	e := env{log: log}
	c := DefaultServer()
	c.Name = e.str("KART_NAME", c.Name)
	c.Listen = e.str("KART_LISTEN", c.Listen)
	c.Dedicated = e.boolean("KART_DEDICATED", c.Dedicated)
	c.HostName = e.str("KART_HOST_NAME", c.HostName)
	c.MaxPlayers = e.integer("KART_MAX_PLAYERS", c.MaxPlayers)
	c.AllowJoin = e.boolean("KART_ALLOW_JOIN", c.AllowJoin)
	c.JoinDelay = e.integer("KART_JOIN_DELAY", c.JoinDelay)
	c.MaxPing = uint32(e.integer("KART_MAX_PING", int(c.MaxPing)))
	c.PingTimeout = e.integer("KART_PING_TIMEOUT", c.PingTimeout)
	c.NetTimeout = e.duration("KART_NET_TIMEOUT", c.NetTimeout)
	c.JoinTimeout = e.duration("KART_JOIN_TIMEOUT", c.JoinTimeout)
	c.ResyncAttempts = e.integer("KART_RESYNC_ATTEMPTS", c.ResyncAttempts)
	c.KickBanDuration = e.duration("KART_KICK_BAN_DURATION", c.KickBanDuration)
	c.AdminPassword = e.str("KART_ADMIN_PASSWORD", c.AdminPassword)
	c.BanFile = e.str("KART_BAN_FILE", c.BanFile)
	c.BanStore = e.str("KART_BAN_STORE", c.BanStore)
	c.ContentDir = e.str("KART_CONTENT_DIR", c.ContentDir)
	c.Files = e.list("KART_FILES", c.Files)
	c.HTTPSource = e.str("KART_HTTP_SOURCE", c.HTTPSource)
	c.SoftPacketLength = e.integer("KART_SOFT_PACKET_LENGTH", c.SoftPacketLength)
	c.ExtraTics = e.integer("KART_EXTRA_TICS", c.ExtraTics)
	c.GameType = uint8(e.integer("KART_GAMETYPE", int(c.GameType)))
	c.MapName = e.str("KART_MAP", c.MapName)
	c.Seed = uint32(e.integer("KART_SEED", int(c.Seed)))
	c.Bots = e.integer("KART_BOTS", c.Bots)
	c.MasterURL = e.str("KART_MASTER_URL", c.MasterURL)
	c.PublicAddress = e.str("KART_PUBLIC_ADDRESS", c.PublicAddress)
	c.Region = e.str("KART_REGION", c.Region)
	c.DiscoveryRate = e.float("KART_DISCOVERY_RATE", c.DiscoveryRate)
	c.DiscoveryBurst = e.integer("KART_DISCOVERY_BURST", c.DiscoveryBurst)
	return c
}

// LoadClient returns the defaults overridden by the environment.
func LoadClient(log logrus.FieldLogger) Client {
	e := env{log: log}
	c := DefaultClient()
	c.Address = e.str("KART_SERVER", c.Address)
	c.Names = e.list("KART_PLAYER_NAMES", c.Names)
	c.LocalPlayers = e.integer("KART_LOCAL_PLAYERS", c.LocalPlayers)
	c.ContentDir = e.str("KART_CONTENT_DIR", c.ContentDir)
	c.HTTPDownload = e.boolean("KART_HTTP_DOWNLOAD", c.HTTPDownload)
	c.AutoConfirm = e.boolean("KART_AUTO_CONFIRM", c.AutoConfirm)
	c.SearchRetry = e.duration("KART_SEARCH_RETRY", c.SearchRetry)
	c.JoinRetry = e.duration("KART_JOIN_RETRY", c.JoinRetry)
	c.FullRetry = e.duration("KART_FULL_RETRY", c.FullRetry)
	c.JoinCeiling = e.duration("KART_JOIN_CEILING", c.JoinCeiling)
	c.InactivityTimeout = e.duration("KART_INACTIVITY_TIMEOUT", c.InactivityTimeout)
	c.MasterURL = e.str("KART_MASTER_URL", c.MasterURL)
	c.AdminPassword = e.str("KART_ADMIN_PASSWORD", c.AdminPassword)
	return c
}

type env struct {
	log logrus.FieldLogger
}

func (e env) str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func (e env) list(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e env) integer(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		e.log.WithField("key", key).WithError(err).Warnf("invalid integer, using default %d", fallback)
		return fallback
	}
	return int(i)
}

func (e env) float(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.log.WithField("key", key).WithError(err).Warnf("invalid number, using default %v", fallback)
		return fallback
	}
	return f
}

func (e env) boolean(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.log.WithField("key", key).WithError(err).Warnf("invalid boolean, using default %v", fallback)
		return fallback
	}
	return b
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.log.WithField("key", key).WithError(err).Warnf("invalid duration, using default %v", fallback)
		return fallback
	}
	return d
}
