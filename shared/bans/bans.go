// Package bans keeps the server's ban list and its on-disk format.
package bans

import (
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// Record bans every address inside Prefix until Expires. A zero Expires is
// a permanent ban.
type Record struct {
	Prefix   netip.Prefix
	Expires  time.Time
	Username string
	Reason   string
}

func (r Record) Permanent() bool { return r.Expires.IsZero() }

// Active reports whether r still applies at now.
func (r Record) Active(now time.Time) bool {
	return r.Permanent() || now.Before(r.Expires)
}

// Remaining is the time left on a temporary ban.
func (r Record) Remaining(now time.Time) time.Duration {
	if r.Permanent() {
		return 0
	}
	return max(0, r.Expires.Sub(now))
}

// FormatRemaining renders a ban duration for players.
func FormatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d days, %d hours", int(d/(24*time.Hour)), int(d%(24*time.Hour)/time.Hour))
	case d >= time.Hour:
		return fmt.Sprintf("%d hours, %d minutes", int(d/time.Hour), int(d%time.Hour/time.Minute))
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes, %d seconds", int(d/time.Minute), int(d%time.Minute/time.Second))
	}
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}

// HostPrefix returns the single-address prefix of addr.
func HostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, addr.BitLen())
}

// List is the in-memory ban table.
type List struct {
	records []Record
}

// Add inserts r, replacing an existing record for the same prefix.
func (l *List) Add(r Record) {
	r.Prefix = r.Prefix.Masked()
	for i := range l.records {
		if l.records[i].Prefix == r.Prefix {
			l.records[i] = r
			return
		}
	}
	l.records = append(l.records, r)
}

// Match returns the first active record covering addr.
func (l *List) Match(addr netip.Addr, now time.Time) (Record, bool) {
	addr = addr.Unmap()
	for _, r := range l.records {
		if r.Prefix.Contains(addr) && r.Active(now) {
			return r, true
		}
	}
	return Record{}, false
}

// Remove deletes the record for prefix.
func (l *List) Remove(prefix netip.Prefix) bool {
	prefix = prefix.Masked()
	n := len(l.records)
	l.records = slices.DeleteFunc(l.records, func(r Record) bool { return r.Prefix == prefix })
	return len(l.records) != n
}

func (l *List) Clear() { l.records = nil }

// Prune drops expired records and returns how many were dropped.
func (l *List) Prune(now time.Time) int {
	n := len(l.records)
	l.records = slices.DeleteFunc(l.records, func(r Record) bool { return !r.Active(now) })
	return n - len(l.records)
}

// Records returns a copy of the table.
func (l *List) Records() []Record {
	return slices.Clone(l.records)
}

// Replace sets the table to records.
func (l *List) Replace(records []Record) {
	l.records = nil
	for _, r := range records {
		l.Add(r)
	}
}

func (l *List) Len() int { return len(l.records) }
