// errors.go - Error kinds surfaced by registry transitions.
//
// Every error is terminal for the attempted transition: a rejected transition
// leaves registry state unchanged. No error reveals which leaf or secret
// caused a proof to fail.

package ledger

import "errors"

var (
	// ErrUnauthorized indicates a role or admin-key check failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProofInvalid indicates a membership or ownership proof was rejected.
	ErrProofInvalid = errors.New("proof invalid")

	// ErrAlreadyClaimed indicates the receipt nullifier is already recorded.
	ErrAlreadyClaimed = errors.New("receipt already claimed")

	// ErrDoubleReview indicates the review nullifier is already recorded for
	// the current period.
	ErrDoubleReview = errors.New("token already consumed this period")

	// ErrAlreadyRevoked indicates the revocation nullifier is already recorded.
	ErrAlreadyRevoked = errors.New("identity already revoked")

	// ErrCapacityExceeded indicates a tree has no free leaf slots left.
	ErrCapacityExceeded = errors.New("tree capacity exceeded")

	// ErrStaleRoot indicates a proof was built against a root that has been
	// evicted from the retained window.
	ErrStaleRoot = errors.New("root outside retained window")

	// ErrNotFound indicates the queried state is absent.
	ErrNotFound = errors.New("not found")
)
