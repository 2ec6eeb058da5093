package messages

import "github.com/automoto/kartsync/shared/netconfig"

// AskInfo is the discovery probe. Time is echoed back for latency.
type AskInfo struct {
	PacketVersion uint8
	Time          int64
}

// MaxInfoFiles is how many manifest entries fit in a ServerInfo reply.
// Longer manifests are fetched with AskFullFileList.
const MaxInfoFiles = 16

// ServerInfo answers AskInfo.
type ServerInfo struct {
	PacketVersion uint8
	Application   string
	Version       uint8
	Subversion    uint8
	ServerName    string
	MapName       string
	GameType      uint8
	GameState     netconfig.GameState
	NumPlayers    uint8
	MaxPlayers    uint8
	// RefuseReason is non-empty when the server would refuse a join right now.
	RefuseReason string
	Dedicated    bool
	Time         int64
	Modified     bool
	// HTTPSource is an optional mirror serving the manifest files.
	HTTPSource string
	TotalFiles int
	Files      []FileNeeded
}

// AskFullFileList requests manifest entries starting at FirstNum.
type AskFullFileList struct {
	FirstNum int
}

// MoreFilesNeeded carries a page of the manifest.
type MoreFilesNeeded struct {
	FirstNum int
	More     bool
	Files    []FileNeeded
}

// ClientJoin asks the server to admit LocalPlayers players.
type ClientJoin struct {
	PacketVersion uint8
	Application   string
	Version       uint8
	Subversion    uint8
	LocalPlayers  uint8
	Names         []string
}

// ServerConfig admits the node.
type ServerConfig struct {
	Tic          uint32
	ServerPlayer uint8
	ClientNode   uint8
	TotalSlots   uint8
	GameType     uint8
	GameState    netconfig.GameState
	// Context is 8 random letters naming this server instance.
	Context         [8]byte
	Modified        bool
	SaveGameFollows bool
	MaxPing         uint32
	// Seed builds the initial world when no snapshot follows.
	Seed uint32
}

// ServerRefuse rejects a join. Reasons starting with "K|" or "B|" are a
// temporary kick or a ban.
type ServerRefuse struct {
	Reason string
}

func (AskInfo) Type() PacketType         { return TypeAskInfo }
func (ServerInfo) Type() PacketType      { return TypeServerInfo }
func (AskFullFileList) Type() PacketType { return TypeAskFullFileList }
func (MoreFilesNeeded) Type() PacketType { return TypeMoreFilesNeeded }
func (ClientJoin) Type() PacketType      { return TypeClientJoin }
func (ServerConfig) Type() PacketType    { return TypeServerConfig }
func (ServerRefuse) Type() PacketType    { return TypeServerRefuse }
