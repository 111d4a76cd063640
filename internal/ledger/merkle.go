// merkle.go - Append-only Merkle tree with a bounded window of historic roots.
//
// Leaves are commitments; internal nodes are MiMC hashes of child pairs.
// Nodes are stored in flat per-level slices rather than linked node objects,
// so paths stay allocation-light and the tree serializes as plain JSON.
// The tree keeps its most recent roots valid, so a prover's path computed
// against an older root is still accepted within the retained window.

package ledger

import (
	"bytes"
	"fmt"

	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// DefaultRootWindow is the number of recent roots a tree retains.
// A proof built against an evicted root fails with ErrStaleRoot.
const DefaultRootWindow = 32

// Tree is a fixed-depth, append-only Merkle accumulator.
// Levels[0] holds leaf hashes; Levels[Depth][0] is the current root.
// A leaf's index is immutable once assigned.
type Tree struct {
	Depth     int        `json:"depth"`
	Window    int        `json:"window"`
	NextIndex uint64     `json:"next_index"`
	Levels    [][][]byte `json:"levels"`
	Roots     [][]byte   `json:"roots"` // most recent last

	empty [][]byte // cached empty-subtree hashes per level
}

// NewTree creates an empty tree of the given depth, retaining the given
// number of historic roots (DefaultRootWindow if window <= 0).
func NewTree(depth, window int) *Tree {
	if window <= 0 {
		window = DefaultRootWindow
	}
	t := &Tree{
		Depth:  depth,
		Window: window,
		Levels: make([][][]byte, depth+1),
	}
	t.Roots = [][]byte{t.Root()}
	return t
}

// hashLeaf hashes a leaf value into its level-0 node, matching the
// in-circuit membership gadget which absorbs the leaf before the path.
func hashLeaf(leaf []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(leaf)
	return sumTrimmed(h)
}

// hashNode hashes a child pair into its parent node.
func hashNode(left, right []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(left)
	h.Write(right)
	return sumTrimmed(h)
}

// emptyHashes lazily computes the hash of an empty subtree at each level.
func (t *Tree) emptyHashes() [][]byte {
	if t.empty != nil {
		return t.empty
	}
	empty := make([][]byte, t.Depth+1)
	empty[0] = hashLeaf(nil)
	for i := 1; i <= t.Depth; i++ {
		empty[i] = hashNode(empty[i-1], empty[i-1])
	}
	t.empty = empty
	return empty
}

// Capacity returns the maximum number of leaves the tree can hold.
func (t *Tree) Capacity() uint64 {
	return 1 << uint(t.Depth)
}

// Root returns the current root.
func (t *Tree) Root() []byte {
	if t.NextIndex == 0 {
		return t.emptyHashes()[t.Depth]
	}
	return t.Levels[t.Depth][0]
}

// Append inserts a leaf at the next free index and records the new root.
// Returns ErrCapacityExceeded when the tree is full. Insertion is strictly
// append-only.
func (t *Tree) Append(leaf []byte) (uint64, error) {
	if t.NextIndex >= t.Capacity() {
		return 0, ErrCapacityExceeded
	}
	empty := t.emptyHashes()
	index := t.NextIndex

	node := hashLeaf(leaf)
	i := index
	for level := 0; level <= t.Depth; level++ {
		for uint64(len(t.Levels[level])) <= i {
			t.Levels[level] = append(t.Levels[level], nil)
		}
		t.Levels[level][i] = node
		if level == t.Depth {
			break
		}
		sibling := empty[level]
		if i%2 == 0 {
			if i+1 < uint64(len(t.Levels[level])) && t.Levels[level][i+1] != nil {
				sibling = t.Levels[level][i+1]
			}
			node = hashNode(node, sibling)
		} else {
			node = hashNode(t.Levels[level][i-1], node)
		}
		i /= 2
	}
	t.NextIndex++

	t.Roots = append(t.Roots, t.Root())
	if len(t.Roots) > t.Window {
		t.Roots = t.Roots[len(t.Roots)-t.Window:]
	}
	return index, nil
}

// Path returns the sibling hashes from the leaf at index up to the root,
// computed against the latest state of the tree.
func (t *Tree) Path(index uint64) ([][]byte, error) {
	if index >= t.NextIndex {
		return nil, fmt.Errorf("leaf index %d: %w", index, ErrNotFound)
	}
	empty := t.emptyHashes()
	path := make([][]byte, t.Depth)
	i := index
	for level := 0; level < t.Depth; level++ {
		sib := i ^ 1
		if sib < uint64(len(t.Levels[level])) && t.Levels[level][sib] != nil {
			path[level] = t.Levels[level][sib]
		} else {
			path[level] = empty[level]
		}
		i /= 2
	}
	return path, nil
}

// IsKnownRoot reports whether the given root is inside the retained window.
func (t *Tree) IsKnownRoot(root []byte) bool {
	for _, r := range t.Roots {
		if bytes.Equal(r, root) {
			return true
		}
	}
	return false
}

// VerifyPath recomputes the root from a leaf, its index, and a sibling path.
// Used for native (non-circuit) checks and tests.
func VerifyPath(leaf []byte, index uint64, path [][]byte, root []byte) bool {
	node := hashLeaf(leaf)
	i := index
	for _, sibling := range path {
		if i%2 == 0 {
			node = hashNode(node, sibling)
		} else {
			node = hashNode(sibling, node)
		}
		i /= 2
	}
	return bytes.Equal(node, root)
}
