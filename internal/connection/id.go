package connection

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// idLen is the number of hex characters kept from the digest.
const idLen = 16

// DeriveID computes the base id for a connection from its handshake nonce and
// origin. Identical inputs always yield the same base id.
func DeriveID(nonce, origin string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(origin))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil))[:idLen]
}
