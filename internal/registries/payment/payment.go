// payment.go - Payment Registry state machine.
//
// Owns the payment commitment tree, the five band counters, the receipt
// nullifier set, and the token outbox awaiting bridge relay. The receipt
// confirmation transition is the only source of review tokens.
//
// Exact amounts are never stored on-ledger; only the coarse band index,
// attested by the processing caller. Counters are cumulative; period-scoped
// reporting is derived externally from periodic snapshots.

package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/consensys/gnark/backend/groth16"

	"anonledger/internal/ledger"
	"anonledger/internal/registries/identity"
)

// PaymentTreeDepth sizes the payment tree for roughly a million entries.
const PaymentTreeDepth = 20

// NumBands is the number of public amount bands.
const NumBands = 5

// IdentityVerifier is the read-only view of the identity registry the
// payment registry consults for payer/payee validity. It is a query of
// public fields, never a cross-ledger write.
type IdentityVerifier interface {
	VerifyMember(p *identity.MembershipProof) error
	VerifyApprover(p *identity.MembershipProof) error
}

// Registry is the payment ledger: a single-writer, serialized state machine.
type Registry struct {
	AdminKeyCm     []byte               `json:"admin_key_cm"`
	Payments       *ledger.Tree         `json:"payments"`
	Receipts       *ledger.NullifierSet `json:"receipts"`
	TokenOutbox    []string             `json:"token_outbox"`
	BandCounts     [NumBands]uint64     `json:"band_counts"`
	TotalProcessed uint64               `json:"total_processed"`
	TotalBandSum   uint64               `json:"total_band_sum"`
	CurrentPeriod  uint64               `json:"current_period"`
	DisputeCount   uint64               `json:"dispute_count"`

	ids     IdentityVerifier
	claimVK groth16.VerifyingKey
	rangeVK groth16.VerifyingKey
}

// NewRegistry creates a payment registry under the given admin key
// commitment, consulting ids for member and approver proofs.
// Periods are 1-based so a zero period never appears in a commitment.
func NewRegistry(adminKeyCm []byte, ids IdentityVerifier) *Registry {
	return &Registry{
		AdminKeyCm:    adminKeyCm,
		Payments:      ledger.NewTree(PaymentTreeDepth, ledger.DefaultRootWindow),
		Receipts:      ledger.NewNullifierSet(),
		TokenOutbox:   make([]string, 0),
		CurrentPeriod: 1,
		ids:           ids,
	}
}

// SetIdentityVerifier re-installs the identity view after deserialization.
func (r *Registry) SetIdentityVerifier(ids IdentityVerifier) {
	r.ids = ids
}

// SetVerifyingKeys installs the Groth16 verifying keys for the claim and
// band range circuits. Keys are not part of persisted state.
func (r *Registry) SetVerifyingKeys(claimVK, rangeVK groth16.VerifyingKey) {
	r.claimVK = claimVK
	r.rangeVK = rangeVK
}

// Auth authorizes a payment transition: the admin secret or an approver
// membership proof against the identity registry.
type Auth struct {
	AdminSk  []byte
	Approver *identity.MembershipProof
}

// Operation is the tagged union of payment registry transitions.
type Operation interface{ isPaymentOp() }

type ProcessPaymentOp struct {
	Auth       Auth
	Commitment []byte
	Band       uint8
}

type ConfirmReceiptOp struct {
	Statement *ClaimStatement
}

type AdvancePeriodOp struct {
	AdminSk []byte
}

type RaiseDisputeOp struct {
	Member *identity.MembershipProof
}

func (ProcessPaymentOp) isPaymentOp() {}
func (ConfirmReceiptOp) isPaymentOp() {}
func (AdvancePeriodOp) isPaymentOp()  {}
func (RaiseDisputeOp) isPaymentOp()   {}

// Apply dispatches a transition to its handler.
func (r *Registry) Apply(op Operation) error {
	switch v := op.(type) {
	case ProcessPaymentOp:
		return r.ProcessPayment(v.Auth, v.Commitment, v.Band)
	case ConfirmReceiptOp:
		return r.ConfirmReceipt(v.Statement)
	case AdvancePeriodOp:
		return r.AdvancePeriod(v.AdminSk)
	case RaiseDisputeOp:
		return r.RaiseDispute(v.Member)
	default:
		return fmt.Errorf("unknown payment operation %T: %w", op, ledger.ErrNotFound)
	}
}

func (r *Registry) checkAdmin(sk []byte) error {
	if len(sk) == 0 || !bytes.Equal(ledger.PublicKey(sk), r.AdminKeyCm) {
		return fmt.Errorf("admin key mismatch: %w", ledger.ErrUnauthorized)
	}
	return nil
}

func (r *Registry) authorize(auth Auth) error {
	if len(auth.AdminSk) > 0 {
		return r.checkAdmin(auth.AdminSk)
	}
	if auth.Approver != nil {
		if r.ids == nil {
			return fmt.Errorf("identity registry not configured: %w", ledger.ErrUnauthorized)
		}
		return r.ids.VerifyApprover(auth.Approver)
	}
	return fmt.Errorf("no authorization supplied: %w", ledger.ErrUnauthorized)
}

// ProcessPayment appends a payment commitment and updates the band counters.
// The band index is attested by the caller; no range proof ties it to a
// committed amount at this step.
func (r *Registry) ProcessPayment(auth Auth, commitment []byte, band uint8) error {
	if band < 1 || band > NumBands {
		return fmt.Errorf("band %d out of range: %w", band, ledger.ErrProofInvalid)
	}
	if err := r.authorize(auth); err != nil {
		return err
	}
	if _, err := r.Payments.Append(commitment); err != nil {
		return err
	}
	r.BandCounts[band-1]++
	r.TotalProcessed++
	r.TotalBandSum += uint64(band)
	return nil
}

// ConfirmReceipt verifies a payee's claim and, on success, records the
// receipt nullifier and places the fresh token commitment in the outbox for
// relay. Returns ErrAlreadyClaimed on a repeated nullifier and ErrStaleRoot
// when the proof was built against an evicted root. The token's secret is
// never seen here.
func (r *Registry) ConfirmReceipt(st *ClaimStatement) error {
	if st == nil {
		return fmt.Errorf("missing claim statement: %w", ledger.ErrProofInvalid)
	}
	if st.Period != r.CurrentPeriod {
		return fmt.Errorf("claim period %d, current %d: %w", st.Period, r.CurrentPeriod, ledger.ErrProofInvalid)
	}
	if !r.Payments.IsKnownRoot(st.Root) {
		return ledger.ErrStaleRoot
	}
	if r.Receipts.Has(st.ReceiptNullifier) {
		return ledger.ErrAlreadyClaimed
	}
	if err := verifyClaimProof(r.claimVK, PaymentTreeDepth, st); err != nil {
		return err
	}
	r.Receipts.Add(st.ReceiptNullifier)
	r.TokenOutbox = append(r.TokenOutbox, ledger.FieldString(st.TokenCommitment))
	return nil
}

// VerifyRange checks a stateless band range disclosure. No state changes.
func (r *Registry) VerifyRange(st *RangeStatement) error {
	if st == nil {
		return fmt.Errorf("missing range statement: %w", ledger.ErrProofInvalid)
	}
	if st.Lower < 1 || st.Upper > NumBands || st.Lower > st.Upper {
		return fmt.Errorf("bounds [%d,%d] out of range: %w", st.Lower, st.Upper, ledger.ErrProofInvalid)
	}
	if !r.Payments.IsKnownRoot(st.Root) {
		return ledger.ErrStaleRoot
	}
	return verifyRangeProof(r.rangeVK, PaymentTreeDepth, st)
}

// AdvancePeriod increments the current period. Admin only. Counters are not
// reset; they are cumulative.
func (r *Registry) AdvancePeriod(adminSk []byte) error {
	if err := r.checkAdmin(adminSk); err != nil {
		return err
	}
	r.CurrentPeriod++
	return nil
}

// RaiseDispute increments the dispute counter on behalf of a proven member.
func (r *Registry) RaiseDispute(member *identity.MembershipProof) error {
	if r.ids == nil {
		return fmt.Errorf("identity registry not configured: %w", ledger.ErrUnauthorized)
	}
	if err := r.ids.VerifyMember(member); err != nil {
		return err
	}
	r.DisputeCount++
	return nil
}

// Outbox returns a copy of the token commitments awaiting bridge relay.
func (r *Registry) Outbox() []string {
	out := make([]string, len(r.TokenOutbox))
	copy(out, r.TokenOutbox)
	return out
}

// Snapshot is the read-only public view of the registry.
type Snapshot struct {
	PaymentRoot    string           `json:"payment_root"`
	PaymentCount   uint64           `json:"payment_count"`
	BandCounts     [NumBands]uint64 `json:"band_counts"`
	TotalProcessed uint64           `json:"total_processed"`
	TotalBandSum   uint64           `json:"total_band_sum"`
	ReceiptCount   int              `json:"receipt_count"`
	OutboxSize     int              `json:"outbox_size"`
	CurrentPeriod  uint64           `json:"current_period"`
	DisputeCount   uint64           `json:"dispute_count"`
}

// Snapshot returns the public fields of the registry; never private witnesses.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		PaymentRoot:    ledger.FieldString(r.Payments.Root()),
		PaymentCount:   r.Payments.NextIndex,
		BandCounts:     r.BandCounts,
		TotalProcessed: r.TotalProcessed,
		TotalBandSum:   r.TotalBandSum,
		ReceiptCount:   r.Receipts.Len(),
		OutboxSize:     len(r.TokenOutbox),
		CurrentPeriod:  r.CurrentPeriod,
		DisputeCount:   r.DisputeCount,
	}
}

// SaveToFile persists the registry as JSON. Overwrites the file if it exists.
func (r *Registry) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// LoadFromFile loads a registry snapshot from JSON. The identity verifier
// and verifying keys must be re-installed after loading.
func LoadFromFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r Registry
	if err := json.NewDecoder(f).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
