package bans

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/automoto/kartsync/console"
)

// Header is the first line of the current file format.
const Header = "BANFORMAT 1"

var ErrBadLine = errors.New("bans: malformed line")

// ParsePrefix reads "address" or "address/mask".
func ParsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return netip.PrefixFrom(p.Addr().Unmap(), min(p.Bits(), p.Addr().Unmap().BitLen())).Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return HostPrefix(a.Unmap()), nil
}

func formatPrefix(p netip.Prefix) string {
	if p.IsSingleIP() {
		return p.Addr().String()
	}
	return p.String()
}

// Parse reads a ban file. Files without the header line are read in the
// legacy format "address[/mask] reason...", whose bans are permanent.
func Parse(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	var (
		out    []Record
		legacy = true
		lineNo int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if lineNo == 1 && line == Header {
			legacy = false
			continue
		}
		if line == "" {
			continue
		}
		var (
			rec Record
			err error
		)
		if legacy {
			rec, err = parseLegacy(line)
		} else {
			rec, err = parseLine(line)
		}
		if err != nil {
			return out, fmt.Errorf("bans: line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

func parseLine(line string) (Record, error) {
	f := console.Split(line)
	if len(f) < 2 {
		return Record{}, fmt.Errorf("%w: %q", ErrBadLine, line)
	}
	prefix, err := ParsePrefix(f[0])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	epoch, err := strconv.ParseInt(f[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: unban time %q", ErrBadLine, f[1])
	}
	rec := Record{Prefix: prefix}
	if epoch > 0 {
		rec.Expires = time.Unix(epoch, 0)
	}
	if len(f) > 2 {
		rec.Username = f[2]
	}
	if len(f) > 3 {
		rec.Reason = f[3]
	}
	return rec, nil
}

func parseLegacy(line string) (Record, error) {
	addr, reason, _ := strings.Cut(line, " ")
	prefix, err := ParsePrefix(addr)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	return Record{Prefix: prefix, Reason: strings.TrimSpace(reason)}, nil
}

// Format writes records in the current format.
func Format(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Header)
	for _, r := range records {
		var epoch int64
		if !r.Permanent() {
			epoch = r.Expires.Unix()
		}
		fmt.Fprintf(bw, "%s %d %s %s\n", formatPrefix(r.Prefix), epoch, console.Quote(r.Username), console.Quote(r.Reason))
	}
	return bw.Flush()
}
