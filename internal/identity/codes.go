package identity

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// codeAlphabet excludes ambiguity-prone glyphs: I, L, O, 1, 0.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of a generated connect code.
const CodeLength = 6

// maxCodeAttempts bounds retries on uniqueness collisions before giving up.
const maxCodeAttempts = 10

// ErrCodeExhaustion is returned when maxCodeAttempts uniqueness retries
// are all rejected by the store as already taken.
var ErrCodeExhaustion = errors.New("connect code exhaustion")

// generateCode returns one candidate code drawn uniformly at random from
// codeAlphabet, length CodeLength.
func generateCode() (string, error) {
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
