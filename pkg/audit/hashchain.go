package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChainHash computes the next hash in a request's action chain.
//
//	hash = SHA-256( prevHash || canonicalAction )
//
// The first action of a request chains from the empty string.
func ChainHash(prevHash string, canonAction []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonAction)
	return hex.EncodeToString(h.Sum(nil))
}

// ChainRecord is the minimal per-action shape needed for verification and
// archival.
type ChainRecord struct {
	ActionID    string `json:"action_id"`
	Hash        string `json:"hash"`
	PrevHash    string `json:"prev_hash"`
	CanonAction []byte `json:"canon_action"`
}

// VerifyChain walks a request's actions in insertion order and verifies
// every hash link, starting from the chain genesis.
func VerifyChain(records []ChainRecord) error {
	return VerifyChainFrom("", records)
}

// VerifyChainFrom verifies a chain suffix that starts after a known hash,
// for incremental checks against an already-archived prefix.
func VerifyChainFrom(prevHash string, records []ChainRecord) error {
	prev := prevHash
	for i, rec := range records {
		if rec.PrevHash != prev {
			return fmt.Errorf("chain broken at index %d (action %s): prev_hash %s, expected %s",
				i, rec.ActionID, rec.PrevHash, prev)
		}
		expected := ChainHash(prev, rec.CanonAction)
		if rec.Hash != expected {
			return fmt.Errorf("chain broken at index %d (action %s): hash %s, expected %s",
				i, rec.ActionID, rec.Hash, expected)
		}
		prev = rec.Hash
	}
	return nil
}
