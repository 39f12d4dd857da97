package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultHashCost is the bcrypt work factor used when none is configured.
const DefaultHashCost = 12

// Hasher wraps bcrypt with a configured cost and a migration branch for
// stored values that predate hashing.
type Hasher struct {
	cost int
}

// NewHasher returns a hasher with the given bcrypt cost. Costs outside the
// bcrypt range fall back to DefaultHashCost.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultHashCost
	}
	return Hasher{cost: cost}
}

// Hash derives a salted bcrypt hash of the plaintext.
func (h Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext against the stored value. Stored values without a
// bcrypt prefix are treated as legacy plaintext: they compare in constant time
// and report legacy=true so the caller can rewrite the record on a successful
// login. Malformed hashes verify false; Verify never fails otherwise.
func (h Hasher) Verify(plaintext, stored string) (ok, legacy bool) {
	if stored == "" || plaintext == "" {
		return false, false
	}
	if !strings.HasPrefix(stored, "$2") {
		return subtleCompare(stored, plaintext), true
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext)) == nil, false
}

func subtleCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
