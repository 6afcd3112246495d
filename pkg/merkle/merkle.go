// Package merkle builds Keccak-256 hash trees over executed order sets.
// The root serves as a window's integrity digest; inclusion proofs let the
// cross-system validator show a specific order was part of a committed
// window without replaying the whole set.
package merkle

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrEmptyTree = errors.New("merkle: no leaves")

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Hash common.Hash `json:"hash"`
	Left bool        `json:"left"` // sibling sits on the left of the running hash
}

// Proof is an inclusion proof for a single leaf.
type Proof struct {
	Leaf  common.Hash `json:"leaf"`
	Steps []ProofStep `json:"steps"`
}

// HashLeaf hashes raw leaf content. Leaves are domain-separated from
// interior nodes with a one-byte prefix so a proof for an interior node
// cannot be passed off as a leaf proof.
func HashLeaf(data []byte) common.Hash {
	return crypto.Keccak256Hash([]byte{0x00}, data)
}

func hashNode(left, right common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x01}, left.Bytes(), right.Bytes())
}

// Root computes the tree root over leaf content. An odd level duplicates
// its last node. Identical input always yields an identical root.
func Root(leaves [][]byte) (common.Hash, error) {
	if len(leaves) == 0 {
		return common.Hash{}, ErrEmptyTree
	}
	level := make([]common.Hash, len(leaves))
	for i, leaf := range leaves {
		level[i] = HashLeaf(leaf)
	}
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// BuildProof returns the inclusion proof for leaves[index].
func BuildProof(leaves [][]byte, index int) (*Proof, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if index < 0 || index >= len(leaves) {
		return nil, errors.New("merkle: leaf index out of range")
	}

	level := make([]common.Hash, len(leaves))
	for i, leaf := range leaves {
		level[i] = HashLeaf(leaf)
	}

	proof := &Proof{Leaf: level[index]}
	pos := index
	for len(level) > 1 {
		sib := pos ^ 1
		if sib >= len(level) {
			sib = pos // odd level, node is paired with itself
		}
		proof.Steps = append(proof.Steps, ProofStep{
			Hash: level[sib],
			Left: sib < pos,
		})
		level = nextLevel(level)
		pos /= 2
	}
	return proof, nil
}

// Verify recomputes the root from a proof and compares it to the claimed
// digest. The validator runs this locally alongside the external
// authority's verification; both must agree.
func Verify(root common.Hash, proof *Proof) bool {
	if proof == nil {
		return false
	}
	h := proof.Leaf
	for _, step := range proof.Steps {
		if step.Left {
			h = hashNode(step.Hash, h)
		} else {
			h = hashNode(h, step.Hash)
		}
	}
	return bytes.Equal(h.Bytes(), root.Bytes())
}

func nextLevel(level []common.Hash) []common.Hash {
	next := make([]common.Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			next = append(next, hashNode(level[i], level[i+1]))
		} else {
			next = append(next, hashNode(level[i], level[i]))
		}
	}
	return next
}
