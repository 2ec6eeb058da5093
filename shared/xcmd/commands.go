package xcmd

import (
	"fmt"

	"github.com/automoto/kartsync/shared/netconfig"
)

// AddPlayer announces a newly admitted player slot.
type AddPlayer struct {
	Node  uint8
	Slot  uint8
	Split uint8
	Bot   bool
	Name  string
}

func (AddPlayer) Kind() Kind { return KindAddPlayer }

func (a AddPlayer) Encode() []byte {
	name := clip(a.Name, netconfig.MaxPlayerName)
	var bot byte
	if a.Bot {
		bot = 1
	}
	b := make([]byte, 0, 5+len(name))
	b = append(b, a.Node, a.Slot, a.Split, bot, byte(len(name)))
	return append(b, name...)
}

func DecodeAddPlayer(b []byte) (AddPlayer, error) {
	if len(b) < 5 || len(b) < 5+int(b[4]) {
		return AddPlayer{}, fmt.Errorf("%w: addplayer", ErrTruncated)
	}
	return AddPlayer{Node: b[0], Slot: b[1], Split: b[2], Bot: b[3] != 0, Name: string(b[5 : 5+int(b[4])])}, nil
}

// Kick removes Target from the game. Message is only carried for the custom
// reasons.
type Kick struct {
	Target  uint8
	Reason  netconfig.KickReason
	Message string
}

func (Kick) Kind() Kind { return KindKick }

func (k Kick) Encode() []byte {
	b := []byte{k.Target, byte(k.Reason)}
	if k.Reason.HasMessage() {
		msg := clip(k.Message, netconfig.MaxReasonLength)
		b = append(b, byte(len(msg)))
		b = append(b, msg...)
	}
	return b
}

func DecodeKick(b []byte) (Kick, error) {
	if len(b) < 2 {
		return Kick{}, fmt.Errorf("%w: kick", ErrTruncated)
	}
	k := Kick{Target: b[0], Reason: netconfig.KickReason(b[1])}
	if k.Reason.HasMessage() {
		if len(b) < 3 || len(b) < 3+int(b[2]) {
			return Kick{}, fmt.Errorf("%w: kick message", ErrTruncated)
		}
		k.Message = clip(string(b[3:3+int(b[2])]), netconfig.MaxReasonLength)
	}
	return k, nil
}

// Login carries the salted admin password hash of the issuing slot.
type Login struct {
	Hash [HashSize]byte
}

func (Login) Kind() Kind { return KindLogin }

func (l Login) Encode() []byte { return l.Hash[:] }

func DecodeLogin(b []byte) (Login, error) {
	var l Login
	if len(b) != HashSize {
		return l, fmt.Errorf("%w: login hash is %d bytes", ErrTruncated, len(b))
	}
	copy(l.Hash[:], b)
	return l, nil
}

// Verified elevates Slot to admin. Only the server channel may issue it.
type Verified struct {
	Slot uint8
}

func (Verified) Kind() Kind { return KindVerified }

func (v Verified) Encode() []byte { return []byte{v.Slot} }

// RemoveAdmin revokes admin rights from Slot.
type RemoveAdmin struct {
	Slot uint8
}

func (RemoveAdmin) Kind() Kind { return KindRemoveAdmin }

func (r RemoveAdmin) Encode() []byte { return []byte{r.Slot} }

// DecodeSlot decodes the single-byte payload of Verified and RemoveAdmin.
func DecodeSlot(b []byte) (uint8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("%w: slot payload", ErrTruncated)
	}
	return b[0], nil
}

// NameChange renames the issuing slot.
type NameChange struct {
	Name string
}

func (NameChange) Kind() Kind { return KindNameChange }

func (n NameChange) Encode() []byte { return []byte(clip(n.Name, netconfig.MaxPlayerName)) }

func DecodeNameChange(b []byte) (NameChange, error) {
	if len(b) == 0 {
		return NameChange{}, fmt.Errorf("%w: empty name", ErrTruncated)
	}
	return NameChange{Name: clip(string(b), netconfig.MaxPlayerName)}, nil
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
