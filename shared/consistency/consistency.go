// Package consistency computes and retains the per-tic checksum of
// simulation-critical state.
package consistency

import (
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
)

// Token is the 16-bit checksum of one executed tic.
type Token uint16

// Accumulator mixes state values into a Token. Values are summed with
// wrap-around so the result does not depend on iteration order.
type Accumulator struct {
	sum uint32
}

func (a *Accumulator) AddInt32(v int32) {
	a.sum += uint32(v)
}

func (a *Accumulator) AddUint32(v uint32) {
	a.sum += v
}

func (a *Accumulator) AddInt(v int) {
	a.sum += uint32(v)
}

func (a *Accumulator) Token() Token {
	return Token(a.sum & 0xffff)
}

// Ring retains one Token per tic of the backup window.
type Ring struct {
	tokens [netconfig.BackupTics]Token
}

func (r *Ring) Set(t tic.Tic, token Token) {
	r.tokens[t.Index()] = token
}

func (r *Ring) Get(t tic.Tic) Token {
	return r.tokens[t.Index()]
}

func (r *Ring) Reset() {
	r.tokens = [netconfig.BackupTics]Token{}
}

// InWindow reports whether a token reported for t can still be compared
// against the local value when the local simulation is at current.
func InWindow(t, current tic.Tic) bool {
	return t <= current && t+netconfig.BackupTics-1 > current
}

// Matches compares a remote token for t against the stored one. It returns
// false with ok=false when t is outside the lookback window.
func (r *Ring) Matches(t, current tic.Tic, remote Token) (match bool, ok bool) {
	if !InWindow(t, current) {
		return false, false
	}
	return r.Get(t) == remote, true
}
