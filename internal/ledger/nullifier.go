// nullifier.go - Insert-once nullifier sets.
//
// A nullifier set records consumed secrets by their digest. Entries are
// stored as decimal strings so the set serializes as plain JSON and matches
// the public form of ledger-visible values.

package ledger

// NullifierSet is an append-only set of revealed nullifiers.
type NullifierSet struct {
	Entries []string `json:"entries"`

	index map[string]struct{} // rebuilt lazily after deserialization
}

// NewNullifierSet creates an empty set.
func NewNullifierSet() *NullifierSet {
	return &NullifierSet{Entries: make([]string, 0)}
}

func (s *NullifierSet) ensureIndex() {
	if s.index != nil && len(s.index) == len(s.Entries) {
		return
	}
	s.index = make(map[string]struct{}, len(s.Entries))
	for _, e := range s.Entries {
		s.index[e] = struct{}{}
	}
}

// Has reports whether the nullifier has been revealed before.
func (s *NullifierSet) Has(nf []byte) bool {
	s.ensureIndex()
	_, ok := s.index[FieldString(nf)]
	return ok
}

// Add records a nullifier. The caller must have checked Has first; its
// error kind (AlreadyClaimed, DoubleReview, AlreadyRevoked) depends on the
// context the set guards.
func (s *NullifierSet) Add(nf []byte) {
	s.ensureIndex()
	key := FieldString(nf)
	if _, ok := s.index[key]; ok {
		return
	}
	s.Entries = append(s.Entries, key)
	s.index[key] = struct{}{}
}

// Len returns the number of revealed nullifiers.
func (s *NullifierSet) Len() int {
	return len(s.Entries)
}
