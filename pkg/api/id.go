package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	sessionIDPrefix = "sess_"
	turnIDPrefix    = "turn_"
)

// Session identity is chosen by the client, so the pattern admits any
// reasonable URL-safe token, not only server-minted "sess_" IDs.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// NewSessionID generates a new session ID with the "sess_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewSessionID() string {
	return sessionIDPrefix + randomAlphanumeric(idLength)
}

// NewTurnID generates a new turn ID with the "turn_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewTurnID() string {
	return turnIDPrefix + randomAlphanumeric(idLength)
}

// ValidateSessionID checks whether the given string is acceptable as a
// session ID: a URL-safe token of at most 128 characters starting with a
// letter or digit. Server-minted IDs from NewSessionID always validate.
func ValidateSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
