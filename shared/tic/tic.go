// Package tic holds the simulation frame counter and its low-byte wire
// expansion.
package tic

import "github.com/automoto/kartsync/shared/netconfig"

// Tic is one discrete simulation step.
type Tic uint32

// Low returns the byte transmitted on the wire for t.
func (t Tic) Low() uint8 {
	return uint8(t & 0xff)
}

// Index returns t's position in a BackupTics ring.
func (t Tic) Index() int {
	return int(t % netconfig.BackupTics)
}

// Expand recovers the full tic from its transmitted low byte, anchored on
// base. The true value is assumed to lie within 64 tics of base: a forward
// distance above 64 is read as having wrapped backward into the previous
// 256-page, and a backward distance above 64 as having wrapped forward.
// Distances of exactly ±64 stay on base's page. There is no page before
// the first, so a low byte ahead of a base below 256 is taken as is.
func Expand(low uint8, base Tic) Tic {
	page := base &^ 0xff
	delta := int(low) - int(base&0xff)
	switch {
	case delta > 64 && page > 0:
		return page - 256 + Tic(low)
	case delta < -64:
		return page + 256 + Tic(low)
	default:
		return page + Tic(low)
	}
}

// ToMilliseconds converts a tic count to milliseconds at TicRate.
func ToMilliseconds(n Tic) uint32 {
	return uint32(uint64(n) * 1000 / netconfig.TicRate)
}

// FromSeconds converts whole seconds to a tic count.
func FromSeconds(s int) Tic {
	return Tic(s * netconfig.TicRate)
}
