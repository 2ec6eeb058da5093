// Package netconfig defines the protocol constants and lightweight enums
// shared between client and server. It must have zero dependencies on any
// other package of the module so every layer can import it.
package netconfig

import (
	"fmt"
	"time"
)

const (
	// MaxNetNodes is the size of the node table. Node 0 is the server itself.
	MaxNetNodes = 32
	// MaxPlayers is the number of player slots.
	MaxPlayers = 16
	// MaxSplitscreen is the number of local players one node may host.
	MaxSplitscreen = 4

	// BackupTics is the size of every tic-indexed ring buffer.
	BackupTics = 256
	// ClientBackupTics is how far past a node's acknowledged tic the server
	// is willing to send.
	ClientBackupTics = 32

	TicRate     = 35
	TicDuration = time.Second / TicRate

	// MaxTextCmd bounds the extra command bytes one slot may attach to one tic.
	MaxTextCmd      = 255
	MaxPlayerName   = 21
	MaxReasonLength = 30

	// HardPacketLength is the largest datagram the transport may carry.
	HardPacketLength = 1450
	// SoftPacketLength is the default budget for one server tic batch.
	SoftPacketLength = 1024

	// ServerSlot is the slot index whose extra command channel belongs to the
	// server. In dedicated mode no player occupies it.
	ServerSlot = 0
)

// Version identifiers checked during discovery and admission.
const (
	Application   = "KartSync"
	PacketVersion = 1
	Version       = 110
	Subversion    = 4
)

// VersionString renders the version for server listings.
func VersionString() string {
	return fmt.Sprintf("%d.%d.%d", Version/100, Version%100, Subversion)
}

// GameState is the coarse state of the authoritative game.
type GameState uint8

const (
	GameStateWaitingPlayers GameState = iota
	GameStateLevel
	GameStateIntermission
)

func (g GameState) String() string {
	switch g {
	case GameStateWaitingPlayers:
		return "waiting"
	case GameStateLevel:
		return "level"
	case GameStateIntermission:
		return "intermission"
	}
	return "unknown"
}

// KickReason is carried by the kick extra command.
type KickReason uint8

const (
	KickGoAway KickReason = iota + 1
	KickPingHigh
	KickConsistencyFailure
	KickTimeout
	KickPlayerQuit
	KickBanned
	KickCustomKick
	KickCustomBan
)

// HasMessage reports whether the reason carries a free-text message.
func (k KickReason) HasMessage() bool {
	return k == KickCustomKick || k == KickCustomBan
}

// IsBan reports whether the reason creates a permanent ban record.
func (k KickReason) IsBan() bool {
	return k == KickBanned || k == KickCustomBan
}

// IsAdminKick reports whether the reason is an administrative kick that may
// leave a temporary ban behind.
func (k KickReason) IsAdminKick() bool {
	return k == KickGoAway || k == KickCustomKick
}

func (k KickReason) String() string {
	switch k {
	case KickGoAway:
		return "kicked"
	case KickPingHigh:
		return "ping limit"
	case KickConsistencyFailure:
		return "consistency failure"
	case KickTimeout:
		return "timeout"
	case KickPlayerQuit:
		return "quit"
	case KickBanned:
		return "banned"
	case KickCustomKick:
		return "kicked (custom)"
	case KickCustomBan:
		return "banned (custom)"
	}
	return "unknown"
}
