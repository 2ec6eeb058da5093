package xcmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/automoto/kartsync/shared/netconfig"
)

func TestExecuteRunsEntriesInOrder(t *testing.T) {
	var buf []byte
	var err error
	buf, err = Append(buf, AddPlayer{Node: 3, Slot: 4, Split: 1, Name: "Sonic"})
	if err != nil {
		t.Fatal(err)
	}
	buf, err = Append(buf, Kick{Target: 4, Reason: netconfig.KickCustomKick, Message: "bye"})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	r := NewRegistry()
	r.Register(KindAddPlayer, HandlerFunc(func(p []byte, slot int) error {
		a, err := DecodeAddPlayer(p)
		if err != nil {
			return err
		}
		got = append(got, "add:"+a.Name)
		return nil
	}))
	r.Register(KindKick, HandlerFunc(func(p []byte, slot int) error {
		k, err := DecodeKick(p)
		if err != nil {
			return err
		}
		got = append(got, "kick:"+k.Message)
		return nil
	}))

	if err := r.Execute(buf, 0); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Join(got, ",") != "add:Sonic,kick:bye" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestExecuteStopsAtUnknownKind(t *testing.T) {
	buf := []byte{0xee, 0}
	buf, _ = Append(buf, Verified{Slot: 2})
	ran := false
	r := NewRegistry()
	r.Register(KindVerified, HandlerFunc(func([]byte, int) error { ran = true; return nil }))
	err := r.Execute(buf, 7)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if ran {
		t.Fatalf("entries after an unknown kind must not run")
	}
}

func TestExecuteTruncated(t *testing.T) {
	r := NewRegistry()
	r.Register(KindVerified, HandlerFunc(func([]byte, int) error { return nil }))
	if err := r.Execute([]byte{byte(KindVerified), 4, 1}, 1); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestKickMessageClipped(t *testing.T) {
	k := Kick{Target: 1, Reason: netconfig.KickCustomBan, Message: strings.Repeat("x", 50)}
	got, err := DecodeKick(k.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Message) != netconfig.MaxReasonLength {
		t.Fatalf("message length %d, want %d", len(got.Message), netconfig.MaxReasonLength)
	}

	plain, err := DecodeKick(Kick{Target: 2, Reason: netconfig.KickTimeout, Message: "ignored"}.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if plain.Message != "" {
		t.Fatalf("non-custom reason carried message %q", plain.Message)
	}
}

func TestLoginHashDependsOnSlot(t *testing.T) {
	stored := StoredPassword("hunter2")
	if LoginHash("hunter2", 3) != SaltedForSlot(stored, 3) {
		t.Fatalf("client and server derivations disagree")
	}
	if LoginHash("hunter2", 3) == LoginHash("hunter2", 4) {
		t.Fatalf("slot salt has no effect")
	}
	if LoginHash("hunter3", 3) == SaltedForSlot(stored, 3) {
		t.Fatalf("wrong password accepted")
	}
	if SlotSalt(5) != "PNUM05" {
		t.Fatalf("SlotSalt(5) = %q", SlotSalt(5))
	}
}
