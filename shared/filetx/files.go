// Package filetx negotiates and transfers the files a client needs before
// joining, and carries game-state snapshots in the same chunked form.
package filetx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"github.com/automoto/kartsync/shared/messages"
)

// Status is the local state of one manifest entry.
type Status uint8

const (
	StatusNotFound Status = iota
	StatusFound
	StatusChecksumBad
	StatusOpen
	StatusDownloading
	StatusRequested
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not found"
	case StatusFound:
		return "found"
	case StatusChecksumBad:
		return "checksum mismatch"
	case StatusOpen:
		return "open"
	case StatusDownloading:
		return "downloading"
	case StatusRequested:
		return "requested"
	}
	return "unknown"
}

// Checksum is the content hash carried in manifests.
func Checksum(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// ContentStore is the local content the manifest is checked against.
type ContentStore interface {
	Status(f messages.FileNeeded) Status
	Load(name string) ([]byte, error)
	Save(name string, data []byte) error
}

var ErrBadName = errors.New("filetx: bad file name")

// DirStore keeps content files in one directory.
type DirStore struct {
	Dir string
}

func (d DirStore) path(name string) (string, error) {
	base := filepath.Base(name)
	if base != name || base == "." || base == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(d.Dir, base), nil
}

func (d DirStore) Status(f messages.FileNeeded) Status {
	p, err := d.path(f.Name)
	if err != nil {
		return StatusNotFound
	}
	info, err := os.Stat(p)
	if err != nil {
		return StatusNotFound
	}
	if info.Size() != f.Size {
		return StatusChecksumBad
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return StatusNotFound
	}
	if Checksum(data) != f.Checksum {
		return StatusChecksumBad
	}
	return StatusFound
}

func (d DirStore) Load(name string) ([]byte, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (d DirStore) Save(name string, data []byte) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Manifest describes the named files of store.
func Manifest(store ContentStore, names []string) ([]messages.FileNeeded, error) {
	out := make([]messages.FileNeeded, 0, len(names))
	for _, name := range names {
		data, err := store.Load(name)
		if err != nil {
			return nil, fmt.Errorf("filetx: manifest %s: %w", name, err)
		}
		out = append(out, messages.FileNeeded{Name: name, Size: int64(len(data)), Checksum: Checksum(data), WillSend: true})
	}
	return out, nil
}

// Missing returns the indexes of the manifest entries store does not
// satisfy, and the total bytes they need.
func Missing(store ContentStore, manifest []messages.FileNeeded) ([]int, int64) {
	var (
		idx   []int
		total int64
	)
	for i, f := range manifest {
		if store.Status(f) != StatusFound {
			idx = append(idx, i)
			total += f.Size
		}
	}
	return idx, total
}
