package filetx

import (
	"errors"
	"fmt"

	"github.com/automoto/kartsync/shared/messages"
)

const (
	// FragmentSize is the payload of one FileFragment.
	FragmentSize = 1024
	// FragmentsPerTic bounds how many fragments one node gets per tic.
	FragmentsPerTic = 4
	// MaxFileSize bounds a single transfer.
	MaxFileSize = 64 << 20
)

var (
	ErrTooLarge    = errors.New("filetx: transfer too large")
	ErrBadFragment = errors.New("filetx: bad fragment")
)

type transfer struct {
	id     uint8
	data   []byte
	offset int
}

// Sender queues outgoing transfers per node and paces them per tic.
type Sender struct {
	queues    map[int][]*transfer
	broadcast map[int]bool
}

func NewSender() *Sender {
	return &Sender{queues: make(map[int][]*transfer), broadcast: make(map[int]bool)}
}

// Queue schedules data as transfer id to node.
func (s *Sender) Queue(node int, id uint8, data []byte) error {
	if len(data) > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	s.queues[node] = append(s.queues[node], &transfer{id: id, data: data})
	return nil
}

// Broadcast queues data to every node in nodes. Admission is refused while
// a broadcast is in flight.
func (s *Sender) Broadcast(nodes []int, id uint8, data []byte) error {
	for _, n := range nodes {
		if err := s.Queue(n, id, data); err != nil {
			return err
		}
		s.broadcast[n] = true
	}
	return nil
}

// Broadcasting reports whether any broadcast transfer is unfinished.
func (s *Sender) Broadcasting() bool {
	return len(s.broadcast) > 0
}

// Busy reports whether node has pending transfers.
func (s *Sender) Busy(node int) bool {
	return len(s.queues[node]) > 0
}

// Sending reports whether id is queued for node.
func (s *Sender) Sending(node int, id uint8) bool {
	for _, t := range s.queues[node] {
		if t.id == id {
			return true
		}
	}
	return false
}

// Cancel drops every transfer to node.
func (s *Sender) Cancel(node int) {
	delete(s.queues, node)
	delete(s.broadcast, node)
}

// Tick emits up to FragmentsPerTic fragments per node through send. A node
// whose send fails is cancelled and reported in the returned error.
func (s *Sender) Tick(send func(node int, frag messages.FileFragment) error) error {
	var errs []error
	for node, q := range s.queues {
		for sent := 0; sent < FragmentsPerTic && len(q) > 0; sent++ {
			t := q[0]
			end := min(t.offset+FragmentSize, len(t.data))
			frag := messages.FileFragment{
				FileID: t.id,
				Offset: uint32(t.offset),
				Total:  uint32(len(t.data)),
				Data:   t.data[t.offset:end],
			}
			if err := send(node, frag); err != nil {
				errs = append(errs, fmt.Errorf("filetx: node %d: %w", node, err))
				q = nil
				break
			}
			t.offset = end
			if t.offset >= len(t.data) {
				q = q[1:]
			}
		}
		if len(q) == 0 {
			delete(s.queues, node)
			delete(s.broadcast, node)
		} else {
			s.queues[node] = q
		}
	}
	return errors.Join(errs...)
}

type incoming struct {
	data     []byte
	received []bool
	missing  int
}

// Receiver reassembles incoming transfers.
type Receiver struct {
	files map[uint8]*incoming
	done  map[uint8][]byte
}

func NewReceiver() *Receiver {
	return &Receiver{files: make(map[uint8]*incoming), done: make(map[uint8][]byte)}
}

// Accept stores frag and reports whether its transfer is complete.
func (r *Receiver) Accept(frag messages.FileFragment) (bool, error) {
	if frag.Total > MaxFileSize {
		return false, fmt.Errorf("%w: %d bytes", ErrTooLarge, frag.Total)
	}
	if _, ok := r.done[frag.FileID]; ok {
		return true, nil
	}
	in, ok := r.files[frag.FileID]
	if !ok || len(in.data) != int(frag.Total) {
		chunks := (int(frag.Total) + FragmentSize - 1) / FragmentSize
		in = &incoming{data: make([]byte, frag.Total), received: make([]bool, chunks), missing: chunks}
		r.files[frag.FileID] = in
	}
	if frag.Total == 0 {
		r.finish(frag.FileID, in)
		return true, nil
	}
	if frag.Offset%FragmentSize != 0 || int(frag.Offset)+len(frag.Data) > len(in.data) {
		return false, fmt.Errorf("%w: offset %d len %d of %d", ErrBadFragment, frag.Offset, len(frag.Data), frag.Total)
	}
	chunk := int(frag.Offset) / FragmentSize
	want := min(FragmentSize, len(in.data)-int(frag.Offset))
	if len(frag.Data) != want {
		return false, fmt.Errorf("%w: chunk %d has %d bytes, want %d", ErrBadFragment, chunk, len(frag.Data), want)
	}
	if !in.received[chunk] {
		copy(in.data[frag.Offset:], frag.Data)
		in.received[chunk] = true
		in.missing--
	}
	if in.missing == 0 {
		r.finish(frag.FileID, in)
		return true, nil
	}
	return false, nil
}

func (r *Receiver) finish(id uint8, in *incoming) {
	r.done[id] = in.data
	delete(r.files, id)
}

// Progress returns received and total bytes of an unfinished transfer.
func (r *Receiver) Progress(id uint8) (int, int) {
	if data, ok := r.done[id]; ok {
		return len(data), len(data)
	}
	in, ok := r.files[id]
	if !ok {
		return 0, 0
	}
	got := 0
	for i, ok := range in.received {
		if ok {
			got += min(FragmentSize, len(in.data)-i*FragmentSize)
		}
	}
	return got, len(in.data)
}

// Take returns a completed transfer and forgets it.
func (r *Receiver) Take(id uint8) ([]byte, bool) {
	data, ok := r.done[id]
	if ok {
		delete(r.done, id)
	}
	return data, ok
}

// Forget drops any state for id, finished or not.
func (r *Receiver) Forget(id uint8) {
	delete(r.files, id)
	delete(r.done, id)
}

// Reset drops every transfer.
func (r *Receiver) Reset() {
	r.files = make(map[uint8]*incoming)
	r.done = make(map[uint8][]byte)
}
