package filetx

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/automoto/kartsync/shared/messages"
)

func TestSenderReceiverReassembles(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 900)
	s := NewSender()
	if err := s.Queue(3, 0, data); err != nil {
		t.Fatal(err)
	}
	r := NewReceiver()
	var frags []messages.FileFragment
	ticks := 0
	for s.Busy(3) {
		ticks++
		err := s.Tick(func(node int, f messages.FileFragment) error {
			if node != 3 {
				t.Fatalf("fragment for node %d", node)
			}
			frags = append(frags, f)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wantFrags := (len(data) + FragmentSize - 1) / FragmentSize
	if len(frags) != wantFrags {
		t.Fatalf("sent %d fragments, want %d", len(frags), wantFrags)
	}
	if ticks != (wantFrags+FragmentsPerTic-1)/FragmentsPerTic {
		t.Fatalf("took %d tics", ticks)
	}

	// Deliver out of order and with a duplicate.
	order := append([]messages.FileFragment{frags[len(frags)-1], frags[0]}, frags...)
	var done bool
	for _, f := range order {
		var err error
		if done, err = r.Accept(f); err != nil {
			t.Fatal(err)
		}
	}
	if !done {
		t.Fatalf("transfer not complete")
	}
	got, ok := r.Take(0)
	if !ok || !bytes.Equal(got, data) {
		t.Fatalf("reassembled data mismatch")
	}
}

func TestReceiverRejectsBadOffset(t *testing.T) {
	r := NewReceiver()
	_, err := r.Accept(messages.FileFragment{FileID: 1, Offset: 3, Total: 10, Data: []byte{1}})
	if !errors.Is(err, ErrBadFragment) {
		t.Fatalf("expected ErrBadFragment, got %v", err)
	}
}

func TestBroadcastBlocksUntilDelivered(t *testing.T) {
	s := NewSender()
	if err := s.Broadcast([]int{1, 2}, 1, []byte("addon")); err != nil {
		t.Fatal(err)
	}
	if !s.Broadcasting() {
		t.Fatalf("broadcast not reported")
	}
	if err := s.Tick(func(int, messages.FileFragment) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if s.Broadcasting() || s.Busy(1) || s.Busy(2) {
		t.Fatalf("broadcast still pending after delivery")
	}
}

func TestDirStoreStatus(t *testing.T) {
	d := DirStore{Dir: t.TempDir()}
	if err := d.Save("track.pk3", []byte("track data")); err != nil {
		t.Fatal(err)
	}
	manifest, err := Manifest(d, []string{"track.pk3"})
	if err != nil {
		t.Fatal(err)
	}
	if st := d.Status(manifest[0]); st != StatusFound {
		t.Fatalf("status = %s", st)
	}
	bad := manifest[0]
	bad.Checksum[0] ^= 1
	if st := d.Status(bad); st != StatusChecksumBad {
		t.Fatalf("status = %s, want checksum mismatch", st)
	}
	if st := d.Status(messages.FileNeeded{Name: "other.pk3"}); st != StatusNotFound {
		t.Fatalf("status = %s, want not found", st)
	}
	if err := d.Save("../escape", nil); !errors.Is(err, ErrBadName) {
		t.Fatalf("expected ErrBadName, got %v", err)
	}
	idx, total := Missing(d, append(manifest, messages.FileNeeded{Name: "other.pk3", Size: 7}))
	if len(idx) != 1 || idx[0] != 1 || total != 7 {
		t.Fatalf("missing = %v, %d", idx, total)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/addons/track.pk3" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL + "/addons")
	data, err := f.Fetch(context.Background(), "track.pk3")
	if err != nil || string(data) != "payload" {
		t.Fatalf("fetch = %q, %v", data, err)
	}
	if _, err := f.Fetch(context.Background(), "missing.pk3"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
