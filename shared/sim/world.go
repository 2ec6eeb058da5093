// Package sim is a small deterministic racing simulation driven purely by
// tic commands. Every node running the same commands from the same state
// ends in the same state.
package sim

import (
	"fmt"

	"github.com/yohamta/donburi"

	"github.com/automoto/kartsync/shared/consistency"
	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/protocol"
	"github.com/automoto/kartsync/shared/ticcmd"
)

const (
	maxMomentum   = 40 * fracUnit
	accel         = fracUnit / 2
	brakeForce    = fracUnit
	friction      = fracUnit / 8
	boostMomentum = 8 * fracUnit
	rouletteTics  = netconfig.TicRate
	boostTics     = netconfig.TicRate / 2
	numItems      = 8
	spawnSpacing  = 64 * fracUnit
)

// World owns the racers of one game.
type World struct {
	world  donburi.World
	racers [netconfig.MaxPlayers]donburi.Entity
	alive  [netconfig.MaxPlayers]bool
	rng    rng
}

func NewWorld(seed uint32) *World {
	if seed == 0 {
		seed = 0x2545f491
	}
	return &World{world: donburi.NewWorld(), rng: rng{State: seed}}
}

// AddRacer spawns a racer for slot on the starting grid. Adding an existing
// slot resets it.
func (w *World) AddRacer(slot int) {
	w.RemoveRacer(slot)
	e := w.world.Create(Racer)
	Racer.Set(w.world.Entry(e), &RacerData{
		Slot: slot,
		X:    int32(slot%4) * spawnSpacing,
		Y:    -int32(slot/4) * spawnSpacing,
	})
	w.racers[slot] = e
	w.alive[slot] = true
}

func (w *World) RemoveRacer(slot int) {
	if !w.alive[slot] {
		return
	}
	if w.world.Valid(w.racers[slot]) {
		w.world.Remove(w.racers[slot])
	}
	w.alive[slot] = false
}

// Racer returns a copy of slot's racer state.
func (w *World) Racer(slot int) (RacerData, bool) {
	if !w.alive[slot] {
		return RacerData{}, false
	}
	return *Racer.Get(w.world.Entry(w.racers[slot])), true
}

// Racers returns the number of racers.
func (w *World) Racers() int {
	n := 0
	for _, ok := range w.alive {
		if ok {
			n++
		}
	}
	return n
}

// Step advances every racer by one tic using cmds, indexed by slot.
func (w *World) Step(cmds []ticcmd.TicCmd) {
	for slot := range w.racers {
		if !w.alive[slot] || slot >= len(cmds) {
			continue
		}
		r := Racer.Get(w.world.Entry(w.racers[slot]))
		w.stepRacer(r, cmds[slot])
	}
}

func (w *World) stepRacer(r *RacerData, cmd ticcmd.TicCmd) {
	r.Drifting = cmd.Buttons&ticcmd.ButtonDrift != 0
	turn := int32(cmd.Turning)
	if r.Drifting {
		turn += turn / 2
	}
	r.Angle += uint16(turn)

	switch {
	case cmd.Buttons&ticcmd.ButtonBrake != 0:
		r.Momentum -= brakeForce
	case cmd.Buttons&ticcmd.ButtonAccelerate != 0 || cmd.Forward > 0:
		r.Momentum += accel
	default:
		r.Momentum -= friction
	}
	if r.Boost > 0 {
		r.Boost--
		r.Momentum += accel
	}
	limit := int32(maxMomentum)
	if r.Boost > 0 {
		limit += boostMomentum
	}
	r.Momentum = max(0, min(r.Momentum, limit))

	if cmd.Buttons&ticcmd.ButtonItem != 0 {
		switch {
		case r.Item != 0:
			r.Item = 0
			r.Boost = boostTics
			r.Momentum += boostMomentum
		case r.Roulette == 0:
			r.Roulette = rouletteTics
		}
	}
	if r.Roulette > 0 {
		r.Roulette--
		if r.Roulette == 0 {
			r.Item = uint8(w.rng.next()%numItems) + 1
		}
	}

	r.X += fixedMul(r.Momentum, cos(r.Angle))
	r.Y += fixedMul(r.Momentum, sin(r.Angle))
}

// Checksum mixes every racer and the RNG state into a consistency token.
func (w *World) Checksum() consistency.Token {
	var acc consistency.Accumulator
	for slot := range w.racers {
		if !w.alive[slot] {
			continue
		}
		r := Racer.Get(w.world.Entry(w.racers[slot]))
		acc.AddInt32(r.X)
		acc.AddInt32(r.Y)
		acc.AddInt32(r.Momentum)
		acc.AddUint32(uint32(r.Angle))
		acc.AddUint32(uint32(r.Item))
	}
	acc.AddUint32(w.rng.State)
	return acc.Token()
}

// Perturb changes the RNG state. Tests use it to make a node diverge.
func (w *World) Perturb(v uint32) {
	w.rng.State ^= v
	if w.rng.State == 0 {
		w.rng.State = 1
	}
}

type savedWorld struct {
	RNG    uint32
	Racers []RacerData
}

// Save serializes the world.
func (w *World) Save() ([]byte, error) {
	s := savedWorld{RNG: w.rng.State}
	for slot := range w.racers {
		if r, ok := w.Racer(slot); ok {
			s.Racers = append(s.Racers, r)
		}
	}
	b, err := protocol.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("sim: save: %w", err)
	}
	return b, nil
}

// Load replaces the world with a Save result.
func (w *World) Load(data []byte) error {
	var s savedWorld
	if err := protocol.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("sim: load: %w", err)
	}
	for slot := range w.racers {
		w.RemoveRacer(slot)
	}
	w.rng.State = s.RNG
	for _, r := range s.Racers {
		if r.Slot < 0 || r.Slot >= netconfig.MaxPlayers {
			return fmt.Errorf("sim: load: racer slot %d out of range", r.Slot)
		}
		w.AddRacer(r.Slot)
		rd := r
		Racer.Set(w.world.Entry(w.racers[r.Slot]), &rd)
	}
	return nil
}
