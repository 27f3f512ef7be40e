package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash256 returns the SHA-256 digest of data.
func Hash256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Hash256Hex returns the SHA-256 digest of data as a lowercase hex string,
// the form used for entry_hash and UTXO keys.
func Hash256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
