// Package protocol encodes and decodes packets. It must be used by both
// server and client so the two sides agree on the wire format.
package protocol

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/automoto/kartsync/shared/messages"
)

var (
	ErrEmpty       = errors.New("protocol: empty packet")
	ErrUnknownType = errors.New("protocol: unknown packet type")
)

var handle = &codec.MsgpackHandle{}

// Marshal encodes v as msgpack.
func Marshal(v any) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, handle).Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v any) error {
	return codec.NewDecoderBytes(data, handle).Decode(v)
}

type binaryAppender interface {
	AppendBinary([]byte) ([]byte, error)
}

// Encode produces the wire form of msg.
func Encode(msg messages.Message) ([]byte, error) {
	if a, ok := msg.(binaryAppender); ok {
		return a.AppendBinary(nil)
	}
	body, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Type(), err)
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(msg.Type()))
	return append(out, body...), nil
}

// Decode parses one packet. The returned message is a value of one of the
// messages structs.
func Decode(data []byte) (messages.Message, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	t := messages.PacketType(data[0])
	switch t {
	case messages.TypeClientCmd, messages.TypeClientMis, messages.TypeNodeKeepAlive, messages.TypeNodeKeepAliveMis:
		return messages.DecodeClientCmd(data)
	case messages.TypeServerTics:
		return messages.DecodeServerTics(data)
	case messages.TypeTextCmd:
		return messages.DecodeTextCmd(data)
	}

	body := data[1:]
	switch t {
	case messages.TypeAskInfo:
		return decodeInto[messages.AskInfo](t, body)
	case messages.TypeServerInfo:
		return decodeInto[messages.ServerInfo](t, body)
	case messages.TypeAskFullFileList:
		return decodeInto[messages.AskFullFileList](t, body)
	case messages.TypeMoreFilesNeeded:
		return decodeInto[messages.MoreFilesNeeded](t, body)
	case messages.TypeClientJoin:
		return decodeInto[messages.ClientJoin](t, body)
	case messages.TypeServerConfig:
		return decodeInto[messages.ServerConfig](t, body)
	case messages.TypeServerRefuse:
		return decodeInto[messages.ServerRefuse](t, body)
	case messages.TypePing:
		return decodeInto[messages.Ping](t, body)
	case messages.TypeWillResendGameState:
		return decodeInto[messages.WillResendGameState](t, body)
	case messages.TypeCanReceiveGameState:
		return decodeInto[messages.CanReceiveGameState](t, body)
	case messages.TypeReceivedGameState:
		return decodeInto[messages.ReceivedGameState](t, body)
	case messages.TypeClientQuit:
		return decodeInto[messages.ClientQuit](t, body)
	case messages.TypeServerShutdown:
		return decodeInto[messages.ServerShutdown](t, body)
	case messages.TypeRequestFile:
		return decodeInto[messages.RequestFile](t, body)
	case messages.TypeFileFragment:
		return decodeInto[messages.FileFragment](t, body)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
}

func decodeInto[T messages.Message](t messages.PacketType, body []byte) (messages.Message, error) {
	var v T
	if err := Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", t, err)
	}
	return v, nil
}
