package identity

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"anonledger/internal/ledger"
)

// CircuitMembership proves that the caller owns a committed identity leaf
// of a registry tree, without revealing which leaf. It shows:
//
//	pk = MiMC(sk)
//	cm = MiMC(tagIdentity || pk || r)
//	cm is a member of the tree with the public Root
//	Nullifier = MiMC(sk || tagRevocation)
//
// The registry separately checks that Root is inside the retained window
// and that Nullifier is absent from the revocation set.
type CircuitMembership struct {
	// ====== PUBLIC VARIABLES ======
	Root      frontend.Variable `gnark:",public"`
	Nullifier frontend.Variable `gnark:",public"`

	// ====== PRIVATE VARIABLES ======
	Sk        frontend.Variable
	R         frontend.Variable
	LeafIndex frontend.Variable
	Path      ledger.MerkleProof
}

// NewMembershipCircuit allocates a membership circuit for a tree of the
// given depth. The path length fixes the circuit shape, so each tree depth
// compiles to its own constraint system.
func NewMembershipCircuit(depth int) *CircuitMembership {
	return &CircuitMembership{Path: make(ledger.MerkleProof, depth)}
}

// Define implements the circuit constraints for membership.
func (c *CircuitMembership) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// 1) pk = MiMC(sk)
	hasher.Write(c.Sk)
	pk := hasher.Sum()

	// 2) Recompute the identity leaf: cm = MiMC(tag || pk || r)
	hasher.Reset()
	hasher.Write(ledger.TagValue(ledger.TagIdentity))
	hasher.Write(pk)
	hasher.Write(c.R)
	cm := hasher.Sum()

	// 3) Merkle membership of cm under the public root
	ledger.AssertIsMember(api, &hasher, c.Root, c.Path, cm, c.LeafIndex)

	// 4) Revocation nullifier: nf = MiMC(sk || tag)
	hasher.Reset()
	hasher.Write(c.Sk)
	hasher.Write(ledger.TagValue(ledger.TagRevocation))
	nf := hasher.Sum()
	api.AssertIsEqual(c.Nullifier, nf)

	return nil
}
