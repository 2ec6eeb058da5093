package messages

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/ticcmd"
)

var ErrMalformed = errors.New("messages: malformed packet")

// ClientCmd is the per-tic client packet. The keep-alive types carry no
// commands and no consistency token.
type ClientCmd struct {
	Kind        PacketType
	ClientTic   uint8
	ResendFrom  uint8
	Consistency uint16
	Cmds        []ticcmd.TicCmd
}

func (c ClientCmd) Type() PacketType { return c.Kind }

// KeepAlive reports whether c carries no commands.
func (c ClientCmd) KeepAlive() bool {
	return c.Kind == TypeNodeKeepAlive || c.Kind == TypeNodeKeepAliveMis
}

// Missed reports whether the client detected a gap.
func (c ClientCmd) Missed() bool {
	return c.Kind == TypeClientMis || c.Kind == TypeNodeKeepAliveMis
}

func (c ClientCmd) AppendBinary(b []byte) ([]byte, error) {
	switch c.Kind {
	case TypeClientCmd, TypeClientMis, TypeNodeKeepAlive, TypeNodeKeepAliveMis:
	default:
		return b, fmt.Errorf("%w: client cmd with type %s", ErrMalformed, c.Kind)
	}
	b = append(b, byte(c.Kind), c.ClientTic, c.ResendFrom)
	if c.KeepAlive() {
		return b, nil
	}
	if len(c.Cmds) == 0 || len(c.Cmds) > netconfig.MaxSplitscreen {
		return b, fmt.Errorf("%w: %d local commands", ErrMalformed, len(c.Cmds))
	}
	b = binary.LittleEndian.AppendUint16(b, c.Consistency)
	b = append(b, byte(len(c.Cmds)))
	for _, cmd := range c.Cmds {
		b = cmd.AppendTo(b)
	}
	return b, nil
}

func DecodeClientCmd(b []byte) (ClientCmd, error) {
	if len(b) < 3 {
		return ClientCmd{}, fmt.Errorf("%w: client cmd of %d bytes", ErrMalformed, len(b))
	}
	c := ClientCmd{Kind: PacketType(b[0]), ClientTic: b[1], ResendFrom: b[2]}
	if c.KeepAlive() {
		return c, nil
	}
	if len(b) < 6 {
		return ClientCmd{}, fmt.Errorf("%w: client cmd header", ErrMalformed)
	}
	c.Consistency = binary.LittleEndian.Uint16(b[3:])
	n := int(b[5])
	if n == 0 || n > netconfig.MaxSplitscreen || len(b) != 6+n*ticcmd.Size {
		return ClientCmd{}, fmt.Errorf("%w: %d commands in %d bytes", ErrMalformed, n, len(b))
	}
	c.Cmds = make([]ticcmd.TicCmd, n)
	for i := range c.Cmds {
		cmd, err := ticcmd.Unmarshal(b[6+i*ticcmd.Size:])
		if err != nil {
			return ClientCmd{}, err
		}
		c.Cmds[i] = cmd
	}
	return c, nil
}

// SlotText is one slot's extra command bytes for a tic.
type SlotText struct {
	Slot uint8
	Data []byte
}

// ServerTicsHeaderSize is the fixed prefix of a ServerTics packet.
const ServerTicsHeaderSize = 4

// ServerTics is a batch of consecutive tics. Cmds holds NumTics*NumSlots
// commands in tic-major order and Text holds one entry per tic.
type ServerTics struct {
	StartTic uint8
	NumTics  uint8
	NumSlots uint8
	Cmds     []ticcmd.TicCmd
	Text     [][]SlotText
}

func (ServerTics) Type() PacketType { return TypeServerTics }

// TicSize is the encoded size of one tic of the batch given its text.
func TicSize(numSlots int, text []SlotText) int {
	n := numSlots*ticcmd.Size + 1
	for _, t := range text {
		n += 2 + len(t.Data)
	}
	return n
}

func (s ServerTics) AppendBinary(b []byte) ([]byte, error) {
	if len(s.Cmds) != int(s.NumTics)*int(s.NumSlots) || len(s.Text) != int(s.NumTics) {
		return b, fmt.Errorf("%w: %d tics, %d slots, %d cmds, %d text", ErrMalformed, s.NumTics, s.NumSlots, len(s.Cmds), len(s.Text))
	}
	b = append(b, byte(TypeServerTics), s.StartTic, s.NumTics, s.NumSlots)
	for _, cmd := range s.Cmds {
		b = cmd.AppendTo(b)
	}
	for _, entries := range s.Text {
		b = append(b, byte(len(entries)))
		for _, e := range entries {
			if len(e.Data) > netconfig.MaxTextCmd {
				return b, fmt.Errorf("%w: %d text bytes for slot %d", ErrMalformed, len(e.Data), e.Slot)
			}
			b = append(b, e.Slot, byte(len(e.Data)))
			b = append(b, e.Data...)
		}
	}
	return b, nil
}

func DecodeServerTics(b []byte) (ServerTics, error) {
	if len(b) < ServerTicsHeaderSize {
		return ServerTics{}, fmt.Errorf("%w: servertics of %d bytes", ErrMalformed, len(b))
	}
	s := ServerTics{StartTic: b[1], NumTics: b[2], NumSlots: b[3]}
	if s.NumSlots > netconfig.MaxPlayers {
		return ServerTics{}, fmt.Errorf("%w: %d slots", ErrMalformed, s.NumSlots)
	}
	off := ServerTicsHeaderSize
	total := int(s.NumTics) * int(s.NumSlots)
	if len(b) < off+total*ticcmd.Size {
		return ServerTics{}, fmt.Errorf("%w: servertics commands truncated", ErrMalformed)
	}
	s.Cmds = make([]ticcmd.TicCmd, total)
	for i := range s.Cmds {
		cmd, err := ticcmd.Unmarshal(b[off:])
		if err != nil {
			return ServerTics{}, err
		}
		s.Cmds[i] = cmd
		off += ticcmd.Size
	}
	s.Text = make([][]SlotText, s.NumTics)
	for i := range s.Text {
		if off >= len(b) {
			return ServerTics{}, fmt.Errorf("%w: servertics text truncated", ErrMalformed)
		}
		count := int(b[off])
		off++
		for j := 0; j < count; j++ {
			if off+2 > len(b) || off+2+int(b[off+1]) > len(b) {
				return ServerTics{}, fmt.Errorf("%w: servertics text entry truncated", ErrMalformed)
			}
			slot, n := b[off], int(b[off+1])
			s.Text[i] = append(s.Text[i], SlotText{Slot: slot, Data: append([]byte(nil), b[off+2:off+2+n]...)})
			off += 2 + n
		}
	}
	return s, nil
}

// Tic returns the commands of the i-th tic of the batch.
func (s ServerTics) Tic(i int) []ticcmd.TicCmd {
	n := int(s.NumSlots)
	return s.Cmds[i*n : (i+1)*n]
}

// TextCmd carries extra command bytes a client wants attached to one of its
// local players.
type TextCmd struct {
	Split uint8
	Data  []byte
}

func (TextCmd) Type() PacketType { return TypeTextCmd }

func (t TextCmd) AppendBinary(b []byte) ([]byte, error) {
	if len(t.Data) == 0 || len(t.Data) > netconfig.MaxTextCmd {
		return b, fmt.Errorf("%w: textcmd of %d bytes", ErrMalformed, len(t.Data))
	}
	b = append(b, byte(TypeTextCmd), t.Split, byte(len(t.Data)))
	return append(b, t.Data...), nil
}

func DecodeTextCmd(b []byte) (TextCmd, error) {
	if len(b) < 3 || len(b) != 3+int(b[2]) || b[2] == 0 {
		return TextCmd{}, fmt.Errorf("%w: textcmd of %d bytes", ErrMalformed, len(b))
	}
	return TextCmd{Split: b[1], Data: append([]byte(nil), b[3:]...)}, nil
}
