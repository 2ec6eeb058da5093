package sim

import "math"

const (
	fracBits = 16
	fracUnit = 1 << fracBits

	fineAngles = 1024
)

var fineSine [fineAngles]int32

func init() {
	for i := range fineSine {
		fineSine[i] = int32(math.Round(math.Sin(2*math.Pi*float64(i)/fineAngles) * fracUnit))
	}
}

func fineIndex(angle uint16) int {
	return int(angle >> 6)
}

func sin(angle uint16) int32 {
	return fineSine[fineIndex(angle)]
}

func cos(angle uint16) int32 {
	return fineSine[(fineIndex(angle)+fineAngles/4)%fineAngles]
}

func fixedMul(a, b int32) int32 {
	return int32((int64(a) * int64(b)) >> fracBits)
}

// rng is a xorshift32 generator. Its state is part of the checksum.
type rng struct {
	State uint32
}

func (r *rng) next() uint32 {
	x := r.State
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.State = x
	return x
}
