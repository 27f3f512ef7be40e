package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/meshledger/core/pkg/helpers"
)

// PowDifficulty is a leading-zero-bit target. PoW here is a cheap
// anti-spam throttle, not a mining economy: the verifier cost is one
// SHA-256, the producer cost scales with 2^difficulty on average.
type PowDifficulty uint8

// MaxPowDifficulty guards against a configured difficulty that would make
// MinePow effectively never terminate.
const MaxPowDifficulty PowDifficulty = 32

// MinePow searches for a nonce such that SHA-256(preimage || nonce) has at
// least `difficulty` leading zero bits. preimage is
// `sender_id | entry_id | lamport_counter` per the canonical PoW input.
func MinePow(preimage []byte, difficulty PowDifficulty) (string, error) {
	if difficulty > MaxPowDifficulty {
		return "", fmt.Errorf("pow: difficulty %d exceeds max %d", difficulty, MaxPowDifficulty)
	}

	var counter uint64
	nonceBuf := make([]byte, 8)
	for {
		seed, err := helpers.GenerateSecureRandom(4)
		if err != nil {
			return "", fmt.Errorf("pow: read random seed: %w", err)
		}
		copy(nonceBuf[:4], seed)
		binary.LittleEndian.PutUint32(nonceBuf[4:], uint32(counter))

		candidate := hex.EncodeToString(nonceBuf)
		if VerifyPow(preimage, candidate, difficulty) {
			return candidate, nil
		}
		counter++
	}
}

// VerifyPow recomputes SHA-256(preimage || nonce) and checks the leading
// zero-bit count against difficulty. Cheap: one hash, no iteration.
func VerifyPow(preimage []byte, nonce string, difficulty PowDifficulty) bool {
	nonceBytes, err := hex.DecodeString(nonce)
	if err != nil {
		return false
	}

	h := sha256.New()
	h.Write(preimage)
	h.Write(nonceBytes)
	sum := h.Sum(nil)

	return leadingZeroBits(sum) >= int(difficulty)
}

func leadingZeroBits(digest []byte) int {
	bits := 0
	for _, b := range digest {
		if b == 0 {
			bits += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if b&mask != 0 {
				return bits
			}
			bits++
		}
	}
	return bits
}
