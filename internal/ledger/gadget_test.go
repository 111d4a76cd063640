package ledger

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/stretchr/testify/require"
)

// inclusionCircuit wraps AssertIsMember for a fixed-depth tree.
type inclusionCircuit struct {
	Root      frontend.Variable `gnark:",public"`
	Leaf      frontend.Variable
	LeafIndex frontend.Variable
	Path      MerkleProof
}

func (c *inclusionCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	AssertIsMember(api, &hasher, c.Root, c.Path, c.Leaf, c.LeafIndex)
	return nil
}

func TestAssertIsMemberMatchesTree(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Groth16 proving in short mode")
	}

	const depth = 3
	tree := NewTree(depth, 0)
	leaves := make([][]byte, 5)
	for i := range leaves {
		leaves[i] = RandomBytes(32)
		_, err := tree.Append(leaves[i])
		require.NoError(t, err)
	}

	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, &inclusionCircuit{Path: make(MerkleProof, depth)})
	require.NoError(t, err)
	pk, vk, err := groth16.Setup(ccs)
	require.NoError(t, err)

	const index = uint64(2)
	path, err := tree.Path(index)
	require.NoError(t, err)
	require.True(t, VerifyPath(leaves[index], index, path, tree.Root()))

	assign := &inclusionCircuit{
		Root:      FieldString(tree.Root()),
		Leaf:      FieldString(leaves[index]),
		LeafIndex: new(big.Int).SetUint64(index).String(),
		Path:      make(MerkleProof, depth),
	}
	for i, sibling := range path {
		assign.Path[i] = FieldString(sibling)
	}

	w, err := frontend.NewWitness(assign, ecc.BW6_761.ScalarField())
	require.NoError(t, err)
	proof, err := groth16.Prove(ccs, pk, w)
	require.NoError(t, err)
	public, err := w.Public()
	require.NoError(t, err)
	require.NoError(t, groth16.Verify(proof, vk, public))

	// A wrong leaf index flips the hashing order along the path
	assign.LeafIndex = new(big.Int).SetUint64(index + 1).String()
	bad, err := frontend.NewWitness(assign, ecc.BW6_761.ScalarField())
	require.NoError(t, err)
	_, err = groth16.Prove(ccs, pk, bad)
	require.Error(t, err)
}
