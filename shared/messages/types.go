// Package messages defines every packet exchanged between client and server.
//
// Per-tic packets are hand-packed little-endian (see tics.go). Control
// packets are plain structs encoded by package protocol.
package messages

import "fmt"

// PacketType is the leading byte of every packet.
type PacketType uint8

const (
	TypeNone PacketType = iota
	TypeAskInfo
	TypeServerInfo
	TypeAskFullFileList
	TypeMoreFilesNeeded
	TypeClientJoin
	TypeServerConfig
	TypeServerRefuse
	TypeClientCmd
	TypeClientMis
	TypeNodeKeepAlive
	TypeNodeKeepAliveMis
	TypeServerTics
	TypeTextCmd
	TypePing
	TypeWillResendGameState
	TypeCanReceiveGameState
	TypeReceivedGameState
	TypeClientQuit
	TypeServerShutdown
	TypeRequestFile
	TypeFileFragment
)

var typeNames = map[PacketType]string{
	TypeAskInfo:             "askinfo",
	TypeServerInfo:          "serverinfo",
	TypeAskFullFileList:     "askfullfilelist",
	TypeMoreFilesNeeded:     "morefilesneeded",
	TypeClientJoin:          "clientjoin",
	TypeServerConfig:        "serverconfig",
	TypeServerRefuse:        "serverrefuse",
	TypeClientCmd:           "clientcmd",
	TypeClientMis:           "clientmis",
	TypeNodeKeepAlive:       "nodekeepalive",
	TypeNodeKeepAliveMis:    "nodekeepalivemis",
	TypeServerTics:          "servertics",
	TypeTextCmd:             "textcmd",
	TypePing:                "ping",
	TypeWillResendGameState: "willresendgamestate",
	TypeCanReceiveGameState: "canreceivegamestate",
	TypeReceivedGameState:   "receivedgamestate",
	TypeClientQuit:          "clientquit",
	TypeServerShutdown:      "servershutdown",
	TypeRequestFile:         "requestfile",
	TypeFileFragment:        "filefragment",
}

func (t PacketType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("packet(%d)", uint8(t))
}

// PerTic reports whether t uses the hand-packed per-tic layout.
func (t PacketType) PerTic() bool {
	switch t {
	case TypeClientCmd, TypeClientMis, TypeNodeKeepAlive, TypeNodeKeepAliveMis, TypeServerTics, TypeTextCmd:
		return true
	}
	return false
}

// Message is implemented by every packet struct.
type Message interface {
	Type() PacketType
}
