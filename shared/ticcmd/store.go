package ticcmd

import (
	"errors"

	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
)

var ErrTextFull = errors.New("ticcmd: text command buffer full")

// Store is a ring buffer of tic commands indexed by tic % BackupTics, plus
// the extra command bytes attached to (tic, slot) pairs. Text entries are
// keyed by the full tic so a stale entry of a wrapped ring slot is never
// read back for a newer tic.
type Store struct {
	cmds [netconfig.BackupTics][netconfig.MaxPlayers]TicCmd
	text map[tic.Tic]map[int][]byte
}

func NewStore() *Store {
	return &Store{text: make(map[tic.Tic]map[int][]byte)}
}

// Cmd returns the command for slot at t.
func (s *Store) Cmd(t tic.Tic, slot int) TicCmd {
	return s.cmds[t.Index()][slot]
}

// CmdPtr returns a pointer to the stored command so the caller can patch
// flags in place.
func (s *Store) CmdPtr(t tic.Tic, slot int) *TicCmd {
	return &s.cmds[t.Index()][slot]
}

// SetCmd overwrites the command for slot at t.
func (s *Store) SetCmd(t tic.Tic, slot int, cmd TicCmd) {
	s.cmds[t.Index()][slot] = cmd
}

// Slots returns the live command row of t. Callers must not keep it past
// the tic's lifetime.
func (s *Store) Slots(t tic.Tic) []TicCmd {
	return s.cmds[t.Index()][:]
}

// Text returns the extra command bytes for slot at t, or nil.
func (s *Store) Text(t tic.Tic, slot int) []byte {
	if bySlot, ok := s.text[t]; ok {
		return bySlot[slot]
	}
	return nil
}

// SetText replaces the extra command bytes for slot at t.
func (s *Store) SetText(t tic.Tic, slot int, data []byte) error {
	if len(data) > netconfig.MaxTextCmd {
		return ErrTextFull
	}
	if len(data) == 0 {
		s.removeText(t, slot)
		return nil
	}
	bySlot, ok := s.text[t]
	if !ok {
		bySlot = make(map[int][]byte)
		s.text[t] = bySlot
	}
	bySlot[slot] = append([]byte(nil), data...)
	return nil
}

// AppendText adds data to the extra command bytes for slot at t.
func (s *Store) AppendText(t tic.Tic, slot int, data []byte) error {
	cur := s.Text(t, slot)
	if len(cur)+len(data) > netconfig.MaxTextCmd {
		return ErrTextFull
	}
	return s.SetText(t, slot, append(append([]byte(nil), cur...), data...))
}

// TextSlots returns the slots that attached text at t in ascending order.
func (s *Store) TextSlots(t tic.Tic) []int {
	bySlot, ok := s.text[t]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(bySlot))
	for slot := 0; slot < netconfig.MaxPlayers; slot++ {
		if len(bySlot[slot]) > 0 {
			out = append(out, slot)
		}
	}
	return out
}

// TextSize is the number of bytes the text section of t occupies in a
// server tic packet: a count byte plus slot, length and payload per entry.
func (s *Store) TextSize(t tic.Tic) int {
	size := 1
	for _, data := range s.text[t] {
		if len(data) > 0 {
			size += 2 + len(data)
		}
	}
	return size
}

func (s *Store) removeText(t tic.Tic, slot int) {
	bySlot, ok := s.text[t]
	if !ok {
		return
	}
	delete(bySlot, slot)
	if len(bySlot) == 0 {
		delete(s.text, t)
	}
}

// ClearText drops every extra command attached to t.
func (s *Store) ClearText(t tic.Tic) {
	delete(s.text, t)
}

// ClearTic zeroes the command row of t and drops its extra commands.
func (s *Store) ClearTic(t tic.Tic) {
	s.cmds[t.Index()] = [netconfig.MaxPlayers]TicCmd{}
	delete(s.text, t)
}

// Reset empties the whole store.
func (s *Store) Reset() {
	s.cmds = [netconfig.BackupTics][netconfig.MaxPlayers]TicCmd{}
	s.text = make(map[tic.Tic]map[int][]byte)
}

// PendingTextTics returns how many tics currently hold extra commands.
func (s *Store) PendingTextTics() int {
	return len(s.text)
}
