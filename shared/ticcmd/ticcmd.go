// Package ticcmd holds the per-tic control samples and the ring buffer
// that retains them for the backup window.
package ticcmd

import (
	"encoding/binary"
	"errors"
)

// Size is the encoded size of one TicCmd block.
const Size = 9

// Flag bits.
const (
	FlagReceived uint8 = 1 << iota
)

// Button bits.
const (
	ButtonAccelerate uint16 = 1 << iota
	ButtonBrake
	ButtonDrift
	ButtonItem
	ButtonLookBack
)

var ErrShortBlock = errors.New("ticcmd: short block")

// TicCmd is one player's control sample for one tic.
type TicCmd struct {
	Forward int8
	Turning int16
	Aiming  int16
	Buttons uint16
	Latency uint8
	Flags   uint8
}

// Received reports whether the server got this command from its owner.
func (c TicCmd) Received() bool {
	return c.Flags&FlagReceived != 0
}

// Marshal writes c into b, which must be at least Size bytes.
func (c TicCmd) Marshal(b []byte) {
	b[0] = byte(c.Forward)
	binary.LittleEndian.PutUint16(b[1:], uint16(c.Turning))
	binary.LittleEndian.PutUint16(b[3:], uint16(c.Aiming))
	binary.LittleEndian.PutUint16(b[5:], c.Buttons)
	b[7] = c.Latency
	b[8] = c.Flags
}

// AppendTo appends the encoded block to b.
func (c TicCmd) AppendTo(b []byte) []byte {
	var block [Size]byte
	c.Marshal(block[:])
	return append(b, block[:]...)
}

// Unmarshal decodes one block from b.
func Unmarshal(b []byte) (TicCmd, error) {
	if len(b) < Size {
		return TicCmd{}, ErrShortBlock
	}
	return TicCmd{
		Forward: int8(b[0]),
		Turning: int16(binary.LittleEndian.Uint16(b[1:])),
		Aiming:  int16(binary.LittleEndian.Uint16(b[3:])),
		Buttons: binary.LittleEndian.Uint16(b[5:]),
		Latency: b[7],
		Flags:   b[8],
	}, nil
}
