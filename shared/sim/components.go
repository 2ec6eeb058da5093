package sim

import "github.com/yohamta/donburi"

// RacerData is the simulation state of one kart. Positions and momentum
// are 16.16 fixed point; Angle uses the full uint16 range for one turn.
type RacerData struct {
	Slot     int
	X, Y     int32
	Momentum int32
	Angle    uint16
	Item     uint8
	Roulette uint8
	Boost    uint8
	Drifting bool
}

var Racer = donburi.NewComponentType[RacerData]()
