// review.go - Review Registry state machine.
//
// Owns the imported token tree, the 5x5 rating counters, and the review
// nullifier set. Tokens enter only through the bridge relay (ImportToken);
// the submission transition is the only way rating counters change.
//
// Per token the lifecycle is ISSUED -> IMPORTED -> CONSUMED, where CONSUMED
// is terminal per period scope: the same token can review again once the
// period advances, and single-use overall because the payment registry
// issues at most one token per receipt confirmation.

package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/consensys/gnark/backend/groth16"

	"anonledger/internal/ledger"
)

// TokenTreeDepth sizes the imported token tree to match the payment tree.
const TokenTreeDepth = 20

// Rating categories and the score scale.
const (
	NumCategories = 5
	NumScores     = 5
)

// Category indices into the rating counter matrix.
const (
	CategoryCulture = iota
	CategoryCompensation
	CategoryManagement
	CategoryWorkLifeBalance
	CategoryCareerGrowth
)

// CategoryNames maps counter rows to their public names.
var CategoryNames = [NumCategories]string{
	"culture",
	"compensation",
	"management",
	"workLifeBalance",
	"careerGrowth",
}

// Registry is the review ledger: a single-writer, serialized state machine.
type Registry struct {
	AdminKeyCm    []byte                           `json:"admin_key_cm"`
	Tokens        *ledger.Tree                     `json:"tokens"`
	Nullifiers    *ledger.NullifierSet             `json:"nullifiers"`
	Ratings       [NumCategories][NumScores]uint64 `json:"ratings"`
	TotalReviews  uint64                           `json:"total_reviews"`
	CurrentPeriod uint64                           `json:"current_period"`
	ContentHashes []string                         `json:"content_hashes"`

	vk groth16.VerifyingKey
}

// NewRegistry creates a review registry under the given admin key
// commitment. Periods are 1-based, matching the payment registry.
func NewRegistry(adminKeyCm []byte) *Registry {
	return &Registry{
		AdminKeyCm:    adminKeyCm,
		Tokens:        ledger.NewTree(TokenTreeDepth, ledger.DefaultRootWindow),
		Nullifiers:    ledger.NewNullifierSet(),
		ContentHashes: make([]string, 0),
		CurrentPeriod: 1,
	}
}

// SetVerifyingKey installs the Groth16 verifying key for the review circuit.
func (r *Registry) SetVerifyingKey(vk groth16.VerifyingKey) {
	r.vk = vk
}

// Operation is the tagged union of review registry transitions.
type Operation interface{ isReviewOp() }

type ImportTokenOp struct {
	AdminSk         []byte
	TokenCommitment []byte
}

type SubmitReviewOp struct {
	Statement *ReviewStatement
}

type AdvancePeriodOp struct {
	AdminSk []byte
}

func (ImportTokenOp) isReviewOp()   {}
func (SubmitReviewOp) isReviewOp()  {}
func (AdvancePeriodOp) isReviewOp() {}

// Apply dispatches a transition to its handler.
func (r *Registry) Apply(op Operation) error {
	switch v := op.(type) {
	case ImportTokenOp:
		_, err := r.ImportToken(v.AdminSk, v.TokenCommitment)
		return err
	case SubmitReviewOp:
		return r.SubmitReview(v.Statement)
	case AdvancePeriodOp:
		return r.AdvanceReviewPeriod(v.AdminSk)
	default:
		return fmt.Errorf("unknown review operation %T: %w", op, ledger.ErrNotFound)
	}
}

func (r *Registry) checkAdmin(sk []byte) error {
	if len(sk) == 0 || !bytes.Equal(ledger.PublicKey(sk), r.AdminKeyCm) {
		return fmt.Errorf("admin key mismatch: %w", ledger.ErrUnauthorized)
	}
	return nil
}

// ImportToken appends a token commitment produced by the payment registry.
// Bridge relay only: the call must be signed by the admin key both ledgers
// recognize. This is the single authorized cross-ledger write, logged as an
// ordinary transition so it is auditable. Returns the assigned leaf index.
func (r *Registry) ImportToken(adminSk, tokenCommitment []byte) (uint64, error) {
	if err := r.checkAdmin(adminSk); err != nil {
		return 0, err
	}
	return r.Tokens.Append(tokenCommitment)
}

// SubmitReview verifies a review proof and, on success, records the review
// nullifier, stores the content hash verbatim, and increments one rating
// counter per category. Returns ErrDoubleReview on a repeated nullifier.
func (r *Registry) SubmitReview(st *ReviewStatement) error {
	if st == nil {
		return fmt.Errorf("missing review statement: %w", ledger.ErrProofInvalid)
	}
	if st.Period != r.CurrentPeriod {
		return fmt.Errorf("review period %d, current %d: %w", st.Period, r.CurrentPeriod, ledger.ErrProofInvalid)
	}
	for i, score := range st.Scores {
		if score < 1 || score > NumScores {
			return fmt.Errorf("%s score %d out of range: %w", CategoryNames[i], score, ledger.ErrProofInvalid)
		}
	}
	if !r.Tokens.IsKnownRoot(st.Root) {
		return ledger.ErrStaleRoot
	}
	if r.Nullifiers.Has(st.Nullifier) {
		return ledger.ErrDoubleReview
	}
	if err := verifyReviewProof(r.vk, TokenTreeDepth, st); err != nil {
		return err
	}
	r.Nullifiers.Add(st.Nullifier)
	for i, score := range st.Scores {
		r.Ratings[i][score-1]++
	}
	r.TotalReviews++
	r.ContentHashes = append(r.ContentHashes, ledger.FieldString(st.ContentHash))
	return nil
}

// AdvanceReviewPeriod increments the current period, re-scoping future
// review nullifiers. Admin only. Counters are cumulative.
func (r *Registry) AdvanceReviewPeriod(adminSk []byte) error {
	if err := r.checkAdmin(adminSk); err != nil {
		return err
	}
	r.CurrentPeriod++
	return nil
}

// Rating returns the counter for a category and 1-based score.
func (r *Registry) Rating(category int, score uint8) uint64 {
	return r.Ratings[category][score-1]
}

// Snapshot is the read-only public view of the registry.
type Snapshot struct {
	TokenRoot     string                           `json:"token_root"`
	TokenCount    uint64                           `json:"token_count"`
	Ratings       [NumCategories][NumScores]uint64 `json:"ratings"`
	TotalReviews  uint64                           `json:"total_reviews"`
	CurrentPeriod uint64                           `json:"current_period"`
}

// Snapshot returns the public fields of the registry; never private witnesses.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		TokenRoot:     ledger.FieldString(r.Tokens.Root()),
		TokenCount:    r.Tokens.NextIndex,
		Ratings:       r.Ratings,
		TotalReviews:  r.TotalReviews,
		CurrentPeriod: r.CurrentPeriod,
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

// LoadFromFile loads a registry snapshot from JSON. The verifying key must
// be re-installed after loading.
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
