package messages

import "github.com/automoto/kartsync/shared/netconfig"

// Ping is broadcast once per second with every slot's average latency.
type Ping struct {
	Pings   [netconfig.MaxPlayers]uint32
	MaxPing uint32
}

// WillResendGameState announces an imminent full state resend.
type WillResendGameState struct{}

// CanReceiveGameState answers WillResendGameState once the client is ready.
type CanReceiveGameState struct{}

// ReceivedGameState acknowledges a loaded snapshot.
type ReceivedGameState struct {
	Tic uint32
}

// ClientQuit is a voluntary disconnect.
type ClientQuit struct{}

// ServerShutdown tells every node the server is going away.
type ServerShutdown struct{}

func (Ping) Type() PacketType                { return TypePing }
func (WillResendGameState) Type() PacketType { return TypeWillResendGameState }
func (CanReceiveGameState) Type() PacketType { return TypeCanReceiveGameState }
func (ReceivedGameState) Type() PacketType   { return TypeReceivedGameState }
func (ClientQuit) Type() PacketType          { return TypeClientQuit }
func (ServerShutdown) Type() PacketType      { return TypeServerShutdown }
