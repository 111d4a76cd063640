package bridge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"anonledger/internal/ledger"
	"anonledger/internal/registries/payment"
	"anonledger/internal/registries/review"
)

func newTestLedgers(t *testing.T) ([]byte, *payment.Registry, *review.Registry) {
	t.Helper()
	adminSk := ledger.RandomBytes(32)
	adminKeyCm := ledger.PublicKey(adminSk)
	return adminSk, payment.NewRegistry(adminKeyCm, nil), review.NewRegistry(adminKeyCm)
}

func queueTokens(pay *payment.Registry, n int) [][]byte {
	cms := make([][]byte, n)
	for i := range cms {
		cms[i] = ledger.TokenCommitment(ledger.RandomBytes(32), 1, ledger.RandomBytes(32))
		pay.TokenOutbox = append(pay.TokenOutbox, ledger.FieldString(cms[i]))
	}
	return cms
}

func TestRelayDrainsOutbox(t *testing.T) {
	adminSk, pay, rev := newTestLedgers(t)
	relayer := NewRelayer()
	cms := queueTokens(pay, 3)

	require.Equal(t, 3, relayer.Pending(pay))

	relayed, err := relayer.Relay(adminSk, pay, rev)
	require.NoError(t, err)
	require.Equal(t, 3, relayed)
	require.Equal(t, 0, relayer.Pending(pay))
	require.Equal(t, uint64(3), rev.Tokens.NextIndex)

	// The audit trail covers every relayed token in order
	require.Len(t, relayer.Records, 3)
	for i, rec := range relayer.Records {
		require.Equal(t, ledger.FieldString(cms[i]), rec.TokenCommitment)
		require.Equal(t, uint64(i), rec.LeafIndex)
		require.NotEmpty(t, rec.ID)
		require.False(t, rec.RelayedAt.IsZero())
	}

	// A second pass has nothing to do
	relayed, err = relayer.Relay(adminSk, pay, rev)
	require.NoError(t, err)
	require.Equal(t, 0, relayed)
}

func TestRelayResumesAfterNewTokens(t *testing.T) {
	adminSk, pay, rev := newTestLedgers(t)
	relayer := NewRelayer()

	queueTokens(pay, 2)
	relayed, err := relayer.Relay(adminSk, pay, rev)
	require.NoError(t, err)
	require.Equal(t, 2, relayed)

	queueTokens(pay, 3)
	require.Equal(t, 3, relayer.Pending(pay))
	relayed, err = relayer.Relay(adminSk, pay, rev)
	require.NoError(t, err)
	require.Equal(t, 3, relayed)
	require.Equal(t, uint64(5), rev.Tokens.NextIndex)
}

func TestRelayStopsOnRejectedImport(t *testing.T) {
	adminSk, pay, rev := newTestLedgers(t)
	relayer := NewRelayer()
	queueTokens(pay, 2)

	// A wrong admin key rejects the first import and leaves everything queued
	relayed, err := relayer.Relay(ledger.RandomBytes(32), pay, rev)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	require.Equal(t, 0, relayed)
	require.Equal(t, 2, relayer.Pending(pay))

	// A retry with the right key resumes from the cursor
	relayed, err = relayer.Relay(adminSk, pay, rev)
	require.NoError(t, err)
	require.Equal(t, 2, relayed)
}

func TestRelayRejectsMalformedEntry(t *testing.T) {
	adminSk, pay, rev := newTestLedgers(t)
	relayer := NewRelayer()
	pay.TokenOutbox = append(pay.TokenOutbox, "not a number")

	_, err := relayer.Relay(adminSk, pay, rev)
	require.Error(t, err)
	require.Equal(t, uint64(0), rev.Tokens.NextIndex)
}

func TestSaveAndLoad(t *testing.T) {
	adminSk, pay, rev := newTestLedgers(t)
	relayer := NewRelayer()
	queueTokens(pay, 2)
	_, err := relayer.Relay(adminSk, pay, rev)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bridge.json")
	require.NoError(t, relayer.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, relayer.Cursor, loaded.Cursor)
	require.Equal(t, relayer.Records, loaded.Records)
	require.Equal(t, 0, loaded.Pending(pay))
}
