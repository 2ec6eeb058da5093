package xcmd

import (
	"fmt"

	"lukechampine.com/blake3"
)

// HashSize is the size of an admin password hash.
const HashSize = 32

// BaseSalt salts the stored form of the admin password.
const BaseSalt = "basepasswordstorage"

// PasswordPass hashes secret with salt.
func PasswordPass(secret []byte, salt string) [HashSize]byte {
	buf := make([]byte, 0, len(secret)+len(salt))
	buf = append(buf, secret...)
	buf = append(buf, salt...)
	return blake3.Sum256(buf)
}

// StoredPassword is the form of the admin password the server keeps.
func StoredPassword(password string) [HashSize]byte {
	return PasswordPass([]byte(password), BaseSalt)
}

// SlotSalt is the per-slot salt of the submitted hash.
func SlotSalt(slot int) string {
	return fmt.Sprintf("PNUM%02d", slot)
}

// LoginHash is what a client in slot submits for password.
func LoginHash(password string, slot int) [HashSize]byte {
	return SaltedForSlot(StoredPassword(password), slot)
}

// SaltedForSlot derives the hash expected from slot given the stored hash.
func SaltedForSlot(stored [HashSize]byte, slot int) [HashSize]byte {
	return PasswordPass(stored[:], SlotSalt(slot))
}
