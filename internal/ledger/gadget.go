// gadget.go - in-circuit Merkle membership verification.

package ledger

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash"
)

// MerkleProof is the sibling path from a leaf to the root, leaf level
// first. Its length fixes the tree depth at circuit compile time.
type MerkleProof []frontend.Variable

// AssertIsMember constrains leaf to be a member of the tree with the given
// root. The leaf is hashed before the climb and each bit of leafIndex
// selects the hashing order at its level, mirroring Tree.Append and
// Tree.Path on the native side.
func AssertIsMember(api frontend.API, h hash.FieldHasher, root frontend.Variable, proof MerkleProof, leaf frontend.Variable, leafIndex frontend.Variable) {
	h.Reset()
	h.Write(leaf)
	current := h.Sum()

	indexBits := api.ToBinary(leafIndex, len(proof))
	for i, sibling := range proof {
		h.Reset()
		// bit 0: we are the left child, bit 1: the right child
		left := api.Select(indexBits[i], sibling, current)
		right := api.Select(indexBits[i], current, sibling)
		h.Write(left, right)
		current = h.Sum()
	}

	api.AssertIsEqual(current, root)
}
