package codes

import (
	"crypto/hmac"
	"crypto/sha256"
)

// CommitmentSize is the byte length of a commitment and of a SKU hash.
const CommitmentSize = sha256.Size

// DeriveCommitment binds a code to its batch and SKU under the manufacturer secret.
//
// The three inputs are fed to the MAC as separate writes in this exact order:
// code, batch public id, SKU hash. Every stored commitment depends on it, so the
// layout must never change.
func DeriveCommitment(secret []byte, code, batchPublicID string, skuHash []byte) [CommitmentSize]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(code))
	mac.Write([]byte(batchPublicID))
	mac.Write(skuHash)

	var out [CommitmentSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// DeriveSKUHash returns the stable 32-byte hash of a SKU code.
func DeriveSKUHash(skuCode string) [CommitmentSize]byte {
	return sha256.Sum256([]byte(skuCode))
}
