package accounts

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"regexp"
)

const saltLength = 5

var wellFormedKey = regexp.MustCompile(`^[a-f0-9]{40}$`)

// GenerateKey produces a single-use secret key for activation or email
// confirmation links. It combines a fresh random salt with the subject
// (usually the username) through SHA-1, yielding 40 lowercase hex
// characters. Doesn't need to be very secure because it's not used for
// password checking; keys are unguessable link secrets, not credentials.
//
// The salt is returned for completeness but callers persist only the key.
func GenerateKey(subject string) (salt, key string) {
	salt = randomSalt()
	sum := sha1.Sum([]byte(salt + subject))
	return salt, hex.EncodeToString(sum[:])
}

// WellFormedKey reports whether key matches the exact shape GenerateKey
// produces. Malformed keys are rejected before any store lookup.
func WellFormedKey(key string) bool {
	return wellFormedKey.MatchString(key)
}

func randomSalt() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		panic("accounts: random source unavailable: " + err.Error())
	}
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:])[:saltLength]
}
