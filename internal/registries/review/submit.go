// submit.go - Prover-side review submission.
//
// The submitter's agent holds the token secret locally; the registry only
// ever receives the resulting statement and proof.

package review

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"anonledger/internal/ledger"
	"anonledger/internal/registries/payment"
)

// ReviewStatement carries the public inputs, ratings, and proof of a review
// submission. ContentHash is a content-addressing pointer to off-chain text,
// stored verbatim; the text itself never reaches the ledger.
type ReviewStatement struct {
	Root        []byte               `json:"root"`
	Nullifier   []byte               `json:"nullifier"`
	Period      uint64               `json:"period"`
	ContentHash []byte               `json:"content_hash"`
	Scores      [NumCategories]uint8 `json:"scores"`
	Proof       []byte               `json:"proof"`
}

// Submit builds a review proof for an imported token against the current
// token tree. The nullifier is scoped to (token secret, period): the same
// token yields a fresh nullifier once the period advances.
func Submit(token *payment.ReviewToken, tree *ledger.Tree, period uint64, contentHash []byte, scores [NumCategories]uint8, pk groth16.ProvingKey, ccs constraint.ConstraintSystem) (*ReviewStatement, error) {
	path, err := tree.Path(token.Index)
	if err != nil {
		return nil, fmt.Errorf("token path: %w", err)
	}
	root := tree.Root()
	nf := ledger.ReviewNullifier(token.Secret, period)

	witness := NewReviewCircuit(len(path))
	witness.Root = ledger.FieldString(root)
	witness.Nullifier = ledger.FieldString(nf)
	witness.Period = new(big.Int).SetUint64(period).String()
	witness.Secret = ledger.FieldString(token.Secret)
	witness.IssuePeriod = new(big.Int).SetUint64(token.Period).String()
	witness.R = ledger.FieldString(token.R)
	witness.LeafIndex = new(big.Int).SetUint64(token.Index).String()
	for i, sibling := range path {
		witness.Path[i] = ledger.FieldString(sibling)
	}

	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return &ReviewStatement{
		Root:        root,
		Nullifier:   nf,
		Period:      period,
		ContentHash: contentHash,
		Scores:      scores,
		Proof:       buf.Bytes(),
	}, nil
}

// verifyReviewProof checks the Groth16 review proof against its public inputs.
func verifyReviewProof(vk groth16.VerifyingKey, depth int, st *ReviewStatement) error {
	if vk == nil {
		return fmt.Errorf("verifying key not configured: %w", ledger.ErrProofInvalid)
	}
	public := NewReviewCircuit(depth)
	public.Root = ledger.FieldString(st.Root)
	public.Nullifier = ledger.FieldString(st.Nullifier)
	public.Period = new(big.Int).SetUint64(st.Period).String()
	public.Secret = "0"
	public.IssuePeriod = "0"
	public.R = "0"
	public.LeafIndex = "0"
	for i := range public.Path {
		public.Path[i] = "0"
	}
	w, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", ledger.ErrProofInvalid)
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(st.Proof)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", ledger.ErrProofInvalid)
	}
	if err := groth16.Verify(proof, vk, w); err != nil {
		return fmt.Errorf("proof verification failed: %w", ledger.ErrProofInvalid)
	}
	return nil
}
