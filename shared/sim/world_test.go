package sim

import (
	"testing"

	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/ticcmd"
)

func drive(w *World, tics int) {
	cmds := make([]ticcmd.TicCmd, netconfig.MaxPlayers)
	for i := 0; i < tics; i++ {
		for slot := range cmds {
			cmds[slot] = ticcmd.TicCmd{
				Turning: int16(slot*40 - i),
				Buttons: ticcmd.ButtonAccelerate,
			}
			if i%50 == slot {
				cmds[slot].Buttons |= ticcmd.ButtonItem
			}
		}
		w.Step(cmds)
	}
}

func TestWorldsWithSameInputAgree(t *testing.T) {
	a, b := NewWorld(7), NewWorld(7)
	for _, w := range []*World{a, b} {
		w.AddRacer(0)
		w.AddRacer(3)
		w.AddRacer(9)
	}
	drive(a, 300)
	drive(b, 300)
	if a.Checksum() != b.Checksum() {
		t.Fatalf("checksums diverged: %#x vs %#x", a.Checksum(), b.Checksum())
	}
	ra, _ := a.Racer(3)
	if ra.X == 0 && ra.Y == 0 {
		t.Fatalf("racer did not move")
	}
}

func TestSaveLoadRestoresChecksum(t *testing.T) {
	a := NewWorld(11)
	a.AddRacer(1)
	a.AddRacer(2)
	drive(a, 120)

	data, err := a.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	b := NewWorld(99)
	b.AddRacer(5)
	if err := b.Load(data); err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Checksum() != a.Checksum() {
		t.Fatalf("checksum after load %#x, want %#x", b.Checksum(), a.Checksum())
	}
	if _, ok := b.Racer(5); ok {
		t.Fatalf("stale racer survived load")
	}
	if b.Racers() != 2 {
		t.Fatalf("racers after load = %d, want 2", b.Racers())
	}

	drive(a, 60)
	drive(b, 60)
	if b.Checksum() != a.Checksum() {
		t.Fatalf("worlds diverged after load")
	}
}

func TestPerturbChangesChecksum(t *testing.T) {
	w := NewWorld(3)
	w.AddRacer(0)
	before := w.Checksum()
	w.Perturb(0x10)
	if w.Checksum() == before {
		t.Fatalf("perturb had no effect")
	}
}
