// claim.go - Prover-side payment openings, receipt claims, and band range
// disclosures.
//
// The opening of a payment commitment travels to the payee off-ledger; the
// registry only ever sees the commitment and, later, the claim proof. A
// fresh token secret is sampled on every claim, specifically so a review can
// never be correlated back to a particular payment.

package payment

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"anonledger/internal/ledger"
)

// PaymentNote is the private opening of a payment commitment. Created by the
// payment processor and handed to the payee out of band.
type PaymentNote struct {
	Band   uint8
	Period uint64
	Rho    []byte
	R      []byte
	Cm     []byte
	Index  uint64 // leaf index, set once processed
}

// NewPaymentNote derives a payment commitment for the payee's public key
// with fresh randomness.
func NewPaymentNote(payeePk []byte, band uint8, period uint64) *PaymentNote {
	rho := ledger.RandomBytes(32)
	r := ledger.RandomBytes(32)
	return &PaymentNote{
		Band:   band,
		Period: period,
		Rho:    rho,
		R:      r,
		Cm:     ledger.PaymentCommitment(payeePk, band, period, rho, r),
	}
}

// ReviewToken is the payee's half of an issued review-authorization token.
// The secret never reaches any ledger; only the commitment does.
type ReviewToken struct {
	Secret []byte
	R      []byte
	Cm     []byte
	Period uint64
	Index  uint64 // leaf index in the review registry once imported
}

// ClaimStatement carries the public inputs and proof of a receipt claim.
type ClaimStatement struct {
	Root             []byte `json:"root"`
	ReceiptNullifier []byte `json:"receipt_nullifier"`
	TokenCommitment  []byte `json:"token_commitment"`
	Period           uint64 `json:"period"`
	Proof            []byte `json:"proof"`
}

// Claim builds a receipt-confirmation proof for the payee's note against the
// current payment tree, issuing a fresh unlinkable review token for the
// given period. Returns the statement for the registry and the token the
// payee keeps.
func Claim(payeeSk []byte, note *PaymentNote, tree *ledger.Tree, period uint64, pk groth16.ProvingKey, ccs constraint.ConstraintSystem) (*ClaimStatement, *ReviewToken, error) {
	path, err := tree.Path(note.Index)
	if err != nil {
		return nil, nil, fmt.Errorf("payment path: %w", err)
	}
	root := tree.Root()
	nf := ledger.ReceiptNullifier(payeeSk, note.Cm)

	secret := ledger.RandomBytes(32)
	tokenR := ledger.RandomBytes(32)
	token := &ReviewToken{
		Secret: secret,
		R:      tokenR,
		Cm:     ledger.TokenCommitment(secret, period, tokenR),
		Period: period,
	}

	witness := NewClaimCircuit(len(path))
	witness.Root = ledger.FieldString(root)
	witness.ReceiptNullifier = ledger.FieldString(nf)
	witness.TokenCommitment = ledger.FieldString(token.Cm)
	witness.Period = new(big.Int).SetUint64(period).String()
	witness.Sk = ledger.FieldString(payeeSk)
	witness.Band = new(big.Int).SetUint64(uint64(note.Band)).String()
	witness.PayPeriod = new(big.Int).SetUint64(note.Period).String()
	witness.Rho = ledger.FieldString(note.Rho)
	witness.R = ledger.FieldString(note.R)
	witness.LeafIndex = new(big.Int).SetUint64(note.Index).String()
	for i, sibling := range path {
		witness.Path[i] = ledger.FieldString(sibling)
	}
	witness.TokenSecret = ledger.FieldString(secret)
	witness.TokenR = ledger.FieldString(tokenR)

	w, err := frontend.NewWitness(witness, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("witness creation failed: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return &ClaimStatement{
		Root:             root,
		ReceiptNullifier: nf,
		TokenCommitment:  token.Cm,
		Period:           period,
		Proof:            buf.Bytes(),
	}, token, nil
}

// RangeStatement carries the public inputs and proof of a band range
// disclosure.
type RangeStatement struct {
	Root  []byte `json:"root"`
	Lower uint8  `json:"lower"`
	Upper uint8  `json:"upper"`
	Proof []byte `json:"proof"`
}

// ProveRange builds a proof that the committed band lies in [lower, upper].
func ProveRange(payeeSk []byte, note *PaymentNote, tree *ledger.Tree, lower, upper uint8, pk groth16.ProvingKey, ccs constraint.ConstraintSystem) (*RangeStatement, error) {
	path, err := tree.Path(note.Index)
	if err != nil {
		return nil, fmt.Errorf("payment path: %w", err)
	}
	root := tree.Root()

	witness := NewBandRangeCircuit(len(path))
	witness.Root = ledger.FieldString(root)
	witness.Lower = new(big.Int).SetUint64(uint64(lower)).String()
	witness.Upper = new(big.Int).SetUint64(uint64(upper)).String()
	witness.Sk = ledger.FieldString(payeeSk)
	witness.Band = new(big.Int).SetUint64(uint64(note.Band)).String()
	witness.PayPeriod = new(big.Int).SetUint64(note.Period).String()
	witness.Rho = ledger.FieldString(note.Rho)
	witness.R = ledger.FieldString(note.R)
	witness.LeafIndex = new(big.Int).SetUint64(note.Index).String()
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
	return &RangeStatement{Root: root, Lower: lower, Upper: upper, Proof: buf.Bytes()}, nil
}

// verifyClaimProof checks the Groth16 claim proof against its public inputs.
func verifyClaimProof(vk groth16.VerifyingKey, depth int, st *ClaimStatement) error {
	if vk == nil {
		return fmt.Errorf("verifying key not configured: %w", ledger.ErrProofInvalid)
	}
	public := NewClaimCircuit(depth)
	public.Root = ledger.FieldString(st.Root)
	public.ReceiptNullifier = ledger.FieldString(st.ReceiptNullifier)
	public.TokenCommitment = ledger.FieldString(st.TokenCommitment)
	public.Period = new(big.Int).SetUint64(st.Period).String()
	public.Sk = "0"
	public.Band = "0"
	public.PayPeriod = "0"
	public.Rho = "0"
	public.R = "0"
	public.LeafIndex = "0"
	for i := range public.Path {
		public.Path[i] = "0"
	}
	public.TokenSecret = "0"
	public.TokenR = "0"
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

// verifyRangeProof checks the Groth16 band range proof.
func verifyRangeProof(vk groth16.VerifyingKey, depth int, st *RangeStatement) error {
	if vk == nil {
		return fmt.Errorf("verifying key not configured: %w", ledger.ErrProofInvalid)
	}
	public := NewBandRangeCircuit(depth)
	public.Root = ledger.FieldString(st.Root)
	public.Lower = new(big.Int).SetUint64(uint64(st.Lower)).String()
	public.Upper = new(big.Int).SetUint64(uint64(st.Upper)).String()
	public.Sk = "0"
	public.Band = "0"
	public.PayPeriod = "0"
	public.Rho = "0"
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
