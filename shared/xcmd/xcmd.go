// Package xcmd implements the extra commands attached to (tic, slot) pairs.
//
// A slot's buffer for one tic is a sequence of entries framed as
// [kind][len][payload]. Entries run in order before the simulation consumes
// the tic's movement commands.
package xcmd

import (
	"errors"
	"fmt"
)

// Kind identifies an extra command.
type Kind uint8

const (
	KindAddPlayer Kind = iota + 1
	KindKick
	KindLogin
	KindVerified
	KindRemoveAdmin
	KindNameChange
)

func (k Kind) String() string {
	switch k {
	case KindAddPlayer:
		return "addplayer"
	case KindKick:
		return "kick"
	case KindLogin:
		return "login"
	case KindVerified:
		return "verified"
	case KindRemoveAdmin:
		return "removeadmin"
	case KindNameChange:
		return "namechange"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MaxPayload is the largest payload a single entry may carry.
const MaxPayload = 255

var (
	ErrUnknownKind = errors.New("xcmd: unknown command kind")
	ErrTruncated   = errors.New("xcmd: truncated entry")
	ErrTooLarge    = errors.New("xcmd: payload too large")
)

// Command is a typed extra command that can be framed into a buffer.
type Command interface {
	Kind() Kind
	Encode() []byte
}

// Append frames cmd onto buf.
func Append(buf []byte, cmd Command) ([]byte, error) {
	payload := cmd.Encode()
	if len(payload) > MaxPayload {
		return buf, fmt.Errorf("%w: %s carries %d bytes", ErrTooLarge, cmd.Kind(), len(payload))
	}
	buf = append(buf, byte(cmd.Kind()), byte(len(payload)))
	return append(buf, payload...), nil
}

// Frame returns cmd as a one-entry buffer.
func Frame(cmd Command) ([]byte, error) {
	return Append(nil, cmd)
}

// Handler runs one decoded entry issued by slot.
type Handler interface {
	HandleXCmd(payload []byte, slot int) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(payload []byte, slot int) error

func (f HandlerFunc) HandleXCmd(payload []byte, slot int) error {
	return f(payload, slot)
}

// Registry dispatches entries to the handler registered for their kind.
type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register installs h for k, replacing any previous handler.
func (r *Registry) Register(k Kind, h Handler) {
	r.handlers[k] = h
}

// Execute runs every entry of buf in order on behalf of slot. Execution
// stops at the first malformed or unknown entry; handler errors are
// collected and do not stop later entries.
func (r *Registry) Execute(buf []byte, slot int) error {
	var errs []error
	for len(buf) > 0 {
		if len(buf) < 2 {
			return errors.Join(append(errs, ErrTruncated)...)
		}
		kind, n := Kind(buf[0]), int(buf[1])
		if len(buf) < 2+n {
			return errors.Join(append(errs, fmt.Errorf("%w: %s wants %d bytes", ErrTruncated, kind, n))...)
		}
		h, ok := r.handlers[kind]
		if !ok {
			return errors.Join(append(errs, fmt.Errorf("%w: %d from slot %d", ErrUnknownKind, uint8(kind), slot))...)
		}
		if err := h.HandleXCmd(buf[2:2+n], slot); err != nil {
			errs = append(errs, fmt.Errorf("%s from slot %d: %w", kind, slot, err))
		}
		buf = buf[2+n:]
	}
	return errors.Join(errs...)
}
