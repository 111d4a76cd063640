package payment

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"anonledger/internal/ledger"
)

// CircuitClaim is the receipt-confirmation proof. The payee shows, without
// revealing which payment leaf is theirs:
//
//	payeePk = MiMC(sk)
//	cm = MiMC(tagPayment || payeePk || band || payPeriod || rho || r)
//	cm is a member of the payment tree under the public Root
//	ReceiptNullifier = MiMC(sk || tagReceipt || cm)
//	TokenCommitment  = MiMC(tagToken || tokenSecret || Period || tokenR)
//
// The registry checks Root against the retained window, rejects a repeated
// receipt nullifier, and forwards the token commitment to the bridge outbox.
type CircuitClaim struct {
	// ====== PUBLIC VARIABLES ======
	Root             frontend.Variable `gnark:",public"`
	ReceiptNullifier frontend.Variable `gnark:",public"`
	TokenCommitment  frontend.Variable `gnark:",public"`
	Period           frontend.Variable `gnark:",public"`

	// ====== PRIVATE VARIABLES ======
	Sk          frontend.Variable
	Band        frontend.Variable
	PayPeriod   frontend.Variable
	Rho         frontend.Variable
	R           frontend.Variable
	LeafIndex   frontend.Variable
	Path        ledger.MerkleProof
	TokenSecret frontend.Variable
	TokenR      frontend.Variable
}

// NewClaimCircuit allocates a claim circuit for the payment tree depth.
func NewClaimCircuit(depth int) *CircuitClaim {
	return &CircuitClaim{Path: make(ledger.MerkleProof, depth)}
}

// Define implements the circuit constraints for receipt confirmation.
func (c *CircuitClaim) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// 1) payeePk = MiMC(sk)
	hasher.Write(c.Sk)
	payeePk := hasher.Sum()

	// 2) Recompute the payment leaf
	hasher.Reset()
	hasher.Write(ledger.TagValue(ledger.TagPayment))
	hasher.Write(payeePk)
	hasher.Write(c.Band)
	hasher.Write(c.PayPeriod)
	hasher.Write(c.Rho)
	hasher.Write(c.R)
	cm := hasher.Sum()

	// 3) Band stays inside the public disclosure range
	api.AssertIsLessOrEqual(1, c.Band)
	api.AssertIsLessOrEqual(c.Band, 5)

	// 4) Merkle membership of cm under the public root
	ledger.AssertIsMember(api, &hasher, c.Root, c.Path, cm, c.LeafIndex)

	// 5) Receipt nullifier binds the payee secret to this commitment
	hasher.Reset()
	hasher.Write(c.Sk)
	hasher.Write(ledger.TagValue(ledger.TagReceipt))
	hasher.Write(cm)
	nf := hasher.Sum()
	api.AssertIsEqual(c.ReceiptNullifier, nf)

	// 6) Fresh, unlinkable review token for the claim period
	hasher.Reset()
	hasher.Write(ledger.TagValue(ledger.TagToken))
	hasher.Write(c.TokenSecret)
	hasher.Write(c.Period)
	hasher.Write(c.TokenR)
	token := hasher.Sum()
	api.AssertIsEqual(c.TokenCommitment, token)

	return nil
}

// CircuitBandRange proves that a committed payment's band falls within the
// caller-chosen public bounds. Stateless: the registry verifies and mutates
// nothing.
type CircuitBandRange struct {
	// ====== PUBLIC VARIABLES ======
	Root  frontend.Variable `gnark:",public"`
	Lower frontend.Variable `gnark:",public"`
	Upper frontend.Variable `gnark:",public"`

	// ====== PRIVATE VARIABLES ======
	Sk        frontend.Variable
	Band      frontend.Variable
	PayPeriod frontend.Variable
	Rho       frontend.Variable
	R         frontend.Variable
	LeafIndex frontend.Variable
	Path      ledger.MerkleProof
}

// NewBandRangeCircuit allocates a range circuit for the payment tree depth.
func NewBandRangeCircuit(depth int) *CircuitBandRange {
	return &CircuitBandRange{Path: make(ledger.MerkleProof, depth)}
}

// Define implements the circuit constraints for the band range disclosure.
func (c *CircuitBandRange) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	hasher.Write(c.Sk)
	payeePk := hasher.Sum()

	hasher.Reset()
	hasher.Write(ledger.TagValue(ledger.TagPayment))
	hasher.Write(payeePk)
	hasher.Write(c.Band)
	hasher.Write(c.PayPeriod)
	hasher.Write(c.Rho)
	hasher.Write(c.R)
	cm := hasher.Sum()

	ledger.AssertIsMember(api, &hasher, c.Root, c.Path, cm, c.LeafIndex)

	api.AssertIsLessOrEqual(c.Lower, c.Band)
	api.AssertIsLessOrEqual(c.Band, c.Upper)

	return nil
}
