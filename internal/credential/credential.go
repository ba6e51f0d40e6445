package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length is the number of characters in a generated credential.
const Length = 16

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a fresh random alphanumeric credential of Length characters.
func Generate() (string, error) {
	out := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random source: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// MustGenerate is Generate for process startup, where a broken randomness source is fatal.
func MustGenerate() string {
	c, err := Generate()
	if err != nil {
		panic(err)
	}
	return c
}
