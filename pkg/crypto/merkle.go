package crypto

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashLeaf hashes an identifier into a Merkle leaf: keccak256 of its 32-byte
// big-endian encoding.
func HashLeaf(identifier *big.Int) common.Hash {
	return crypto.Keccak256Hash(common.BigToHash(identifier).Bytes())
}

// VerifyCriteriaProof checks a sorted-pair Merkle inclusion proof for an
// identifier against a criteria root. At each level the accumulator and the
// sibling are ordered numerically before hashing, so the proof carries no
// left/right positioning and holds regardless of the tree shape.
//
// The zero-root wildcard is intentionally NOT handled here; callers decide
// whether a zero root means "match anything".
func VerifyCriteriaProof(identifier *big.Int, root common.Hash, proof []common.Hash) bool {
	node := HashLeaf(identifier)
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node == root
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return crypto.Keccak256Hash(a[:], b[:])
	}
	return crypto.Keccak256Hash(b[:], a[:])
}
