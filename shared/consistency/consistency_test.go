package consistency

import (
	"testing"

	"github.com/automoto/kartsync/shared/netconfig"
	"github.com/automoto/kartsync/shared/tic"
)

func TestAccumulatorOrderIndependent(t *testing.T) {
	var a, b Accumulator
	a.AddInt32(-7)
	a.AddUint32(0x12345)
	a.AddInt(9)
	b.AddInt(9)
	b.AddUint32(0x12345)
	b.AddInt32(-7)
	if a.Token() != b.Token() {
		t.Fatalf("tokens differ: %#x vs %#x", a.Token(), b.Token())
	}
	if a.Token() != Token((0x12345-7+9)&0xffff) {
		t.Fatalf("unexpected token %#x", a.Token())
	}
}

func TestRingMatchesWithinWindow(t *testing.T) {
	var r Ring
	r.Set(100, 0xbeef)
	tests := []struct {
		name      string
		at        tic.Tic
		current   tic.Tic
		remote    Token
		wantMatch bool
		wantOK    bool
	}{
		{"same tic match", 100, 100, 0xbeef, true, true},
		{"same tic mismatch", 100, 100, 0xbeee, false, true},
		{"future tic", 101, 100, 0xbeef, false, false},
		{"last comparable tic", 100, 100 + netconfig.BackupTics - 2, 0xbeef, true, true},
		{"aged out", 100, 100 + netconfig.BackupTics - 1, 0xbeef, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := r.Matches(tt.at, tt.current, tt.remote)
			if match != tt.wantMatch || ok != tt.wantOK {
				t.Fatalf("Matches = (%v, %v), want (%v, %v)", match, ok, tt.wantMatch, tt.wantOK)
			}
		})
	}
}
