package lockstep

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/automoto/kartsync/shared/netconfig"
)

// ValidName reports whether name may be used by a player.
func ValidName(name string) bool {
	if name == "" || len(name) > netconfig.MaxPlayerName {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	switch c := name[0]; {
	case c >= '0' && c <= '9', c == '@', c == '~':
		return false
	}
	for _, r := range name {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || r == '"' {
			return false
		}
	}
	return true
}

// EnsureNameIsGood validates name and makes it unique. A name already taken
// is first tried with trailing spaces stripped, then with a digit appended.
func EnsureNameIsGood(name string, taken func(string) bool) (string, bool) {
	if !ValidName(name) {
		return "", false
	}
	if !taken(name) {
		return name, true
	}
	base := name
	if len(base) >= netconfig.MaxPlayerName {
		base = strings.TrimRight(base[:netconfig.MaxPlayerName-1], " ")
	}
	for d := 1; d <= 9; d++ {
		candidate := fmt.Sprintf("%s%d", base, d)
		if ValidName(candidate) && !taken(candidate) {
			return candidate, true
		}
	}
	return "", false
}
