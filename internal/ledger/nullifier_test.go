package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullifierSet(t *testing.T) {
	set := NewNullifierSet()
	nf := RandomBytes(32)

	require.False(t, set.Has(nf))
	set.Add(nf)
	require.True(t, set.Has(nf))
	require.Equal(t, 1, set.Len())

	// Adding again is a no-op
	set.Add(nf)
	require.Equal(t, 1, set.Len())

	other := RandomBytes(32)
	require.False(t, set.Has(other))
	set.Add(other)
	require.Equal(t, 2, set.Len())
}

func TestNullifierSetJSONRoundTrip(t *testing.T) {
	set := NewNullifierSet()
	nfs := make([][]byte, 5)
	for i := range nfs {
		nfs[i] = RandomBytes(32)
		set.Add(nfs[i])
	}

	data, err := json.Marshal(set)
	require.NoError(t, err)

	var loaded NullifierSet
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.Equal(t, set.Len(), loaded.Len())
	for _, nf := range nfs {
		require.True(t, loaded.Has(nf))
	}
	require.False(t, loaded.Has(RandomBytes(32)))
}
