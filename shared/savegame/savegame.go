// Package savegame frames authoritative game-state snapshots for transfer.
//
// A framed snapshot starts with a little-endian uint32 marker: zero means
// the payload that follows is stored raw, any other value is the
// uncompressed length of an LZ4 block that follows.
package savegame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// MaxSize bounds an uncompressed snapshot.
const MaxSize = 768 * 1024

const headerSize = 4

var (
	ErrTooLarge  = errors.New("savegame: snapshot exceeds maximum size")
	ErrTruncated = errors.New("savegame: truncated snapshot")
)

// Pack frames raw, compressing it only when that strictly reduces its size.
func Pack(raw []byte) ([]byte, error) {
	if len(raw) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}
	if len(raw) > 0 {
		buf := make([]byte, headerSize+lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf[headerSize:], nil)
		if err == nil && n > 0 && n < len(raw) {
			binary.LittleEndian.PutUint32(buf, uint32(len(raw)))
			return buf[:headerSize+n], nil
		}
	}
	out := make([]byte, headerSize+len(raw))
	copy(out[headerSize:], raw)
	return out, nil
}

// Unpack reverses Pack.
func Unpack(framed []byte) ([]byte, error) {
	if len(framed) < headerSize {
		return nil, ErrTruncated
	}
	size := binary.LittleEndian.Uint32(framed)
	body := framed[headerSize:]
	if size == 0 {
		return append([]byte(nil), body...), nil
	}
	if size > MaxSize {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, size)
	}
	raw := make([]byte, size)
	n, err := lz4.UncompressBlock(body, raw)
	if err != nil {
		return nil, fmt.Errorf("savegame: decompress: %w", err)
	}
	if n != int(size) {
		return nil, ErrTruncated
	}
	return raw, nil
}

// Compressed reports whether a framed snapshot carries a compressed body.
func Compressed(framed []byte) bool {
	return len(framed) >= headerSize && binary.LittleEndian.Uint32(framed) != 0
}
