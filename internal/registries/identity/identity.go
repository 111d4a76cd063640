// identity.go - Identity Registry state machine.
//
// Owns three append-only membership trees (employees, approvers, auditors)
// plus a revocation set. Leaves first; every other registry depends on
// proofs rooted here. Offboarding never removes a leaf, it records a
// revocation nullifier that future membership proofs must be absent from.
//
// Every transition is applied atomically: all checks run before any state
// mutation, and a rejected transition leaves no trace.

package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/consensys/gnark/backend/groth16"

	"anonledger/internal/ledger"
)

// Tree depths. The approver tree is sized for roughly a thousand operators;
// the auditor tree is smaller still.
const (
	EmployeeTreeDepth = 16
	ApproverTreeDepth = 10
	AuditorTreeDepth  = 6
)

// Status is the registry lifecycle state. Membership proofs are only
// accepted while the registry is ACTIVE.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusSuspended   Status = "SUSPENDED"
	StatusDeactivated Status = "DEACTIVATED"
)

// Registry is the identity ledger: a single-writer, serialized state machine.
type Registry struct {
	AdminKeyCm []byte               `json:"admin_key_cm"`
	Status     Status               `json:"status"`
	Employees  *ledger.Tree         `json:"employees"`
	Approvers  *ledger.Tree         `json:"approvers"`
	Auditors   *ledger.Tree         `json:"auditors"`
	Revoked    *ledger.NullifierSet `json:"revoked"`
	Round      uint64               `json:"round"`

	employeeVK groth16.VerifyingKey
	approverVK groth16.VerifyingKey
	auditorVK  groth16.VerifyingKey
}

// NewRegistry creates an identity registry under the given admin key
// commitment (MiMC of the admin secret).
func NewRegistry(adminKeyCm []byte) *Registry {
	return &Registry{
		AdminKeyCm: adminKeyCm,
		Status:     StatusActive,
		Employees:  ledger.NewTree(EmployeeTreeDepth, ledger.DefaultRootWindow),
		Approvers:  ledger.NewTree(ApproverTreeDepth, ledger.DefaultRootWindow),
		Auditors:   ledger.NewTree(AuditorTreeDepth, ledger.DefaultRootWindow),
		Revoked:    ledger.NewNullifierSet(),
	}
}

// SetVerifyingKeys installs the Groth16 verifying keys for the employee and
// approver membership circuits. Keys are not part of persisted state.
func (r *Registry) SetVerifyingKeys(employeeVK, approverVK groth16.VerifyingKey) {
	r.employeeVK = employeeVK
	r.approverVK = approverVK
}

// Auth authorizes a privileged transition: either the admin secret or an
// approver membership proof. Exactly one field is set.
type Auth struct {
	AdminSk  []byte
	Approver *MembershipProof
}

// Operation is the tagged union of identity registry transitions. Each
// variant carries exactly the public inputs and proof types it requires.
type Operation interface{ isIdentityOp() }

type OnboardMemberOp struct {
	Auth       Auth
	Commitment []byte
}

type OffboardMemberOp struct {
	Auth      Auth
	Nullifier []byte
}

type AddApproverOp struct {
	AdminSk    []byte
	Commitment []byte
}

type AddAuditorOp struct {
	AdminSk    []byte
	Commitment []byte
}

type RotateAdminKeyOp struct {
	AdminSk  []byte
	NewKeyCm []byte
}

type SetStatusOp struct {
	AdminSk []byte
	Status  Status
}

type AdvanceRoundOp struct {
	AdminSk []byte
}

func (OnboardMemberOp) isIdentityOp()  {}
func (OffboardMemberOp) isIdentityOp() {}
func (AddApproverOp) isIdentityOp()    {}
func (AddAuditorOp) isIdentityOp()     {}
func (RotateAdminKeyOp) isIdentityOp() {}
func (SetStatusOp) isIdentityOp()      {}
func (AdvanceRoundOp) isIdentityOp()   {}

// Apply dispatches a transition to its handler. This is the single entry
// point the settlement layer submits through.
func (r *Registry) Apply(op Operation) error {
	switch v := op.(type) {
	case OnboardMemberOp:
		return r.OnboardMember(v.Auth, v.Commitment)
	case OffboardMemberOp:
		return r.OffboardMember(v.Auth, v.Nullifier)
	case AddApproverOp:
		return r.AddApprover(v.AdminSk, v.Commitment)
	case AddAuditorOp:
		return r.AddAuditor(v.AdminSk, v.Commitment)
	case RotateAdminKeyOp:
		return r.RotateAdminKey(v.AdminSk, v.NewKeyCm)
	case SetStatusOp:
		return r.SetStatus(v.AdminSk, v.Status)
	case AdvanceRoundOp:
		return r.AdvanceRound(v.AdminSk)
	default:
		return fmt.Errorf("unknown identity operation %T: %w", op, ledger.ErrNotFound)
	}
}

// checkAdmin verifies the caller holds the admin secret.
func (r *Registry) checkAdmin(sk []byte) error {
	if len(sk) == 0 || !bytes.Equal(ledger.PublicKey(sk), r.AdminKeyCm) {
		return fmt.Errorf("admin key mismatch: %w", ledger.ErrUnauthorized)
	}
	return nil
}

// authorize accepts the admin secret or a valid approver membership proof.
func (r *Registry) authorize(auth Auth) error {
	if len(auth.AdminSk) > 0 {
		return r.checkAdmin(auth.AdminSk)
	}
	if auth.Approver != nil {
		if err := r.VerifyApprover(auth.Approver); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("no authorization supplied: %w", ledger.ErrUnauthorized)
}

// OnboardMember appends a member commitment to the employee tree.
// Caller must be admin or prove approver-tree membership.
func (r *Registry) OnboardMember(auth Auth, commitment []byte) error {
	if err := r.authorize(auth); err != nil {
		return err
	}
	if _, err := r.Employees.Append(commitment); err != nil {
		return err
	}
	return nil
}

// OffboardMember records a revocation nullifier. The member's leaf stays in
// the tree (trees are append-only); future membership proofs for that
// identity fail because the nullifier is now present.
func (r *Registry) OffboardMember(auth Auth, nullifier []byte) error {
	if err := r.authorize(auth); err != nil {
		return err
	}
	if r.Revoked.Has(nullifier) {
		return ledger.ErrAlreadyRevoked
	}
	r.Revoked.Add(nullifier)
	return nil
}

// AddApprover appends an approver commitment. Admin only.
func (r *Registry) AddApprover(adminSk, commitment []byte) error {
	if err := r.checkAdmin(adminSk); err != nil {
		return err
	}
	_, err := r.Approvers.Append(commitment)
	return err
}

// AddAuditor appends an auditor commitment. Admin only.
func (r *Registry) AddAuditor(adminSk, commitment []byte) error {
	if err := r.checkAdmin(adminSk); err != nil {
		return err
	}
	_, err := r.Auditors.Append(commitment)
	return err
}

// RotateAdminKey replaces the admin key commitment. Admin only.
func (r *Registry) RotateAdminKey(adminSk, newKeyCm []byte) error {
	if err := r.checkAdmin(adminSk); err != nil {
		return err
	}
	if len(newKeyCm) == 0 {
		return fmt.Errorf("empty admin key commitment: %w", ledger.ErrNotFound)
	}
	r.AdminKeyCm = newKeyCm
	return nil
}

// SetStatus changes the registry lifecycle state. Admin only.
func (r *Registry) SetStatus(adminSk []byte, status Status) error {
	if err := r.checkAdmin(adminSk); err != nil {
		return err
	}
	switch status {
	case StatusActive, StatusSuspended, StatusDeactivated:
	default:
		return fmt.Errorf("unknown status %q: %w", status, ledger.ErrNotFound)
	}
	r.Status = status
	return nil
}

// AdvanceRound increments the registry round counter. Admin only.
func (r *Registry) AdvanceRound(adminSk []byte) error {
	if err := r.checkAdmin(adminSk); err != nil {
		return err
	}
	r.Round++
	return nil
}

// VerifyMember checks an employee membership proof without mutating state:
// root inside the retained window, nullifier absent from the revocation set,
// registry ACTIVE, and a valid Groth16 proof. Returns accept/reject only.
func (r *Registry) VerifyMember(p *MembershipProof) error {
	return r.verifyAgainst(r.Employees, r.employeeVK, EmployeeTreeDepth, p)
}

// VerifyApprover checks an approver membership proof. Same semantics as
// VerifyMember against the approver tree.
func (r *Registry) VerifyApprover(p *MembershipProof) error {
	return r.verifyAgainst(r.Approvers, r.approverVK, ApproverTreeDepth, p)
}

// VerifyAuditor checks an auditor membership proof. The auditor circuit has
// its own verifying key; see SetAuditorVerifyingKey.
func (r *Registry) VerifyAuditor(p *MembershipProof) error {
	return r.verifyAgainst(r.Auditors, r.auditorVK, AuditorTreeDepth, p)
}

// SetAuditorVerifyingKey installs the auditor membership verifying key.
// Callers that never verify auditors can skip this setup.
func (r *Registry) SetAuditorVerifyingKey(vk groth16.VerifyingKey) {
	r.auditorVK = vk
}

func (r *Registry) verifyAgainst(tree *ledger.Tree, vk groth16.VerifyingKey, depth int, p *MembershipProof) error {
	if p == nil {
		return fmt.Errorf("missing membership proof: %w", ledger.ErrUnauthorized)
	}
	if r.Status != StatusActive {
		return fmt.Errorf("registry %s: %w", r.Status, ledger.ErrUnauthorized)
	}
	if !tree.IsKnownRoot(p.Root) {
		return ledger.ErrStaleRoot
	}
	if r.Revoked.Has(p.Nullifier) {
		return fmt.Errorf("identity revoked: %w", ledger.ErrUnauthorized)
	}
	return verifyMembershipProof(vk, depth, p)
}

// Snapshot is the read-only public view of the registry.
type Snapshot struct {
	Status        Status `json:"status"`
	EmployeeRoot  string `json:"employee_root"`
	EmployeeCount uint64 `json:"employee_count"`
	ApproverRoot  string `json:"approver_root"`
	ApproverCount uint64 `json:"approver_count"`
	AuditorRoot   string `json:"auditor_root"`
	AuditorCount  uint64 `json:"auditor_count"`
	RevokedCount  int    `json:"revoked_count"`
	Round         uint64 `json:"round"`
}

// Snapshot returns the public fields of the registry; never private witnesses.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Status:        r.Status,
		EmployeeRoot:  ledger.FieldString(r.Employees.Root()),
		EmployeeCount: r.Employees.NextIndex,
		ApproverRoot:  ledger.FieldString(r.Approvers.Root()),
		ApproverCount: r.Approvers.NextIndex,
		AuditorRoot:   ledger.FieldString(r.Auditors.Root()),
		AuditorCount:  r.Auditors.NextIndex,
		RevokedCount:  r.Revoked.Len(),
		Round:         r.Round,
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

// LoadFromFile loads a registry snapshot from JSON. Verifying keys must be
// re-installed with SetVerifyingKeys after loading.
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
