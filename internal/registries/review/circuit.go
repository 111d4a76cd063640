package review

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"anonledger/internal/ledger"
)

// CircuitReview is the review submission proof. The submitter shows, without
// revealing which imported token is theirs:
//
//	cm = MiMC(tagToken || secret || issuePeriod || r)
//	cm is a member of the imported token tree under the public Root
//	Nullifier = MiMC(secret || tagReview || Period)
//
// The registry checks Root against the retained window and rejects a
// repeated nullifier for the period.
type CircuitReview struct {
	// ====== PUBLIC VARIABLES ======
	Root      frontend.Variable `gnark:",public"`
	Nullifier frontend.Variable `gnark:",public"`
	Period    frontend.Variable `gnark:",public"`

	// ====== PRIVATE VARIABLES ======
	Secret      frontend.Variable
	IssuePeriod frontend.Variable
	R           frontend.Variable
	LeafIndex   frontend.Variable
	Path        ledger.MerkleProof
}

// NewReviewCircuit allocates a review circuit for the token tree depth.
func NewReviewCircuit(depth int) *CircuitReview {
	return &CircuitReview{Path: make(ledger.MerkleProof, depth)}
}

// Define implements the circuit constraints for review submission.
func (c *CircuitReview) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// 1) Recompute the token leaf
	hasher.Write(ledger.TagValue(ledger.TagToken))
	hasher.Write(c.Secret)
	hasher.Write(c.IssuePeriod)
	hasher.Write(c.R)
	cm := hasher.Sum()

	// 2) Merkle membership of cm under the public root
	ledger.AssertIsMember(api, &hasher, c.Root, c.Path, cm, c.LeafIndex)

	// 3) Review nullifier scoped to the public period
	hasher.Reset()
	hasher.Write(c.Secret)
	hasher.Write(ledger.TagValue(ledger.TagReview))
	hasher.Write(c.Period)
	nf := hasher.Sum()
	api.AssertIsEqual(c.Nullifier, nf)

	return nil
}
