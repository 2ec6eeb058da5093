package tic

import "testing"

func TestExpandRecoversWithinWindow(t *testing.T) {
	bases := []Tic{0x100, 0x1ff, 0x200, 0x27f, 0x12345, 0x40}
	for _, base := range bases {
		for d := -64; d <= 64; d++ {
			want := Tic(int64(base) + int64(d))
			got := Expand(want.Low(), base)
			if got != want {
				t.Fatalf("Expand(%#x, base=%#x) = %#x, want %#x (distance %d)", want.Low(), base, got, want, d)
			}
		}
	}
}

func TestExpandBoundaries(t *testing.T) {
	tests := []struct {
		name string
		low  uint8
		base Tic
		want Tic
	}{
		{"forward 64 stays on page", 0x40 + 64, 0x140, 0x180},
		{"backward 64 stays on page", 0x80 - 64, 0x180, 0x140},
		{"forward 64 crossing page", 0x3f, 0x1ff, 0x23f},
		{"backward 64 crossing page", 0xc0, 0x200, 0x1c0},
		{"forward 65 reads as backward wrap", 0x40 + 65, 0x140, 0x081},
		{"backward 65 reads as forward wrap", 0x80 - 65, 0x180, 0x23f},
		{"same value", 0x7f, 0x17f, 0x17f},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expand(tt.low, tt.base); got != tt.want {
				t.Fatalf("Expand(%#x, %#x) = %#x, want %#x", tt.low, tt.base, got, tt.want)
			}
		})
	}
}

func TestToMilliseconds(t *testing.T) {
	if got := ToMilliseconds(35); got != 1000 {
		t.Fatalf("ToMilliseconds(35) = %d, want 1000", got)
	}
	if got := ToMilliseconds(0); got != 0 {
		t.Fatalf("ToMilliseconds(0) = %d, want 0", got)
	}
}
