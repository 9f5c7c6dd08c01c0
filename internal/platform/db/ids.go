package db

import (
	"crypto/rand"
	"math/big"
)

// idAlphabet omits characters that are easy to confuse when read aloud
// (0, O, I, l).
const idAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const idLength = 16

const (
	PrefixPatient = "pat"
	PrefixNote    = "not"
)

// NewID returns "<prefix>_<16 random characters>".
func NewID(prefix string) string {
	buf := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic("db: read random: " + err.Error())
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return prefix + "_" + string(buf)
}
