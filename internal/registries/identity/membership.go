// membership.go - Prover-side credential handling and membership proofs.
//
// A Credential is the secret material a member's own agent holds locally;
// the registry only ever receives the resulting proof, never the secret or
// the path-construction request.

package identity

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

// Credential holds an identity secret and the opening of its leaf.
type Credential struct {
	Sk    []byte
	R     []byte
	Cm    []byte
	Index uint64 // leaf index, set once onboarded
}

// NewCredential samples a fresh identity secret and commits to it.
func NewCredential() *Credential {
	sk := ledger.RandomBytes(32)
	r := ledger.RandomBytes(32)
	pk := ledger.PublicKey(sk)
	return &Credential{
		Sk: sk,
		R:  r,
		Cm: ledger.IdentityCommitment(pk, r),
	}
}

// RevocationNullifier derives the nullifier that offboards this credential.
func (c *Credential) RevocationNullifier() []byte {
	return ledger.RevocationNullifier(c.Sk)
}

// MembershipProof carries the public inputs and Groth16 proof of a
// membership claim. It never reveals which leaf matched.
type MembershipProof struct {
	Root      []byte `json:"root"`
	Nullifier []byte `json:"nullifier"`
	Proof     []byte `json:"proof"`
}

// BuildMembershipWitness constructs the full witness for CircuitMembership.
func BuildMembershipWitness(cred *Credential, root []byte, path [][]byte) *CircuitMembership {
	w := NewMembershipCircuit(len(path))
	w.Root = ledger.FieldString(root)
	w.Nullifier = ledger.FieldString(cred.RevocationNullifier())
	w.Sk = ledger.FieldString(cred.Sk)
	w.R = ledger.FieldString(cred.R)
	w.LeafIndex = new(big.Int).SetUint64(cred.Index).String()
	for i, sibling := range path {
		w.Path[i] = ledger.FieldString(sibling)
	}
	return w
}

// ProveMembership generates a membership proof for the credential against
// the current state of the given tree. The proof stays valid while the
// tree's root remains inside the retained window.
func ProveMembership(cred *Credential, tree *ledger.Tree, pk groth16.ProvingKey, ccs constraint.ConstraintSystem) (*MembershipProof, error) {
	path, err := tree.Path(cred.Index)
	if err != nil {
		return nil, fmt.Errorf("membership path: %w", err)
	}
	root := tree.Root()
	witness := BuildMembershipWitness(cred, root, path)
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
	return &MembershipProof{
		Root:      root,
		Nullifier: cred.RevocationNullifier(),
		Proof:     buf.Bytes(),
	}, nil
}

// verifyMembershipProof checks the Groth16 proof against the public inputs
// for a tree of the given depth.
func verifyMembershipProof(vk groth16.VerifyingKey, depth int, p *MembershipProof) error {
	if vk == nil {
		return fmt.Errorf("verifying key not configured: %w", ledger.ErrProofInvalid)
	}
	public := NewMembershipCircuit(depth)
	public.Root = ledger.FieldString(p.Root)
	public.Nullifier = ledger.FieldString(p.Nullifier)
	zeroPrivateInputs(public)
	w, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", ledger.ErrProofInvalid)
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(p.Proof)); err != nil {
		return fmt.Errorf("proof unmarshaling failed: %w", ledger.ErrProofInvalid)
	}
	if err := groth16.Verify(proof, vk, w); err != nil {
		return fmt.Errorf("proof verification failed: %w", ledger.ErrProofInvalid)
	}
	return nil
}

// zeroPrivateInputs fills the private slots so witness parsing never sees
// nil variables; PublicOnly discards them.
func zeroPrivateInputs(c *CircuitMembership) {
	c.Sk = "0"
	c.R = "0"
	c.LeafIndex = "0"
	for i := range c.Path {
		c.Path[i] = "0"
	}
}
