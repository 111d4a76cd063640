package payment

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"anonledger/internal/ledger"
)

func newTestRegistry(t *testing.T) ([]byte, *Registry) {
	t.Helper()
	adminSk := ledger.RandomBytes(32)
	return adminSk, NewRegistry(ledger.PublicKey(adminSk), nil)
}

func TestProcessPaymentCounters(t *testing.T) {
	adminSk, reg := newTestRegistry(t)
	auth := Auth{AdminSk: adminSk}

	for _, band := range []uint8{1, 3, 3, 5} {
		note := NewPaymentNote(ledger.PublicKey(ledger.RandomBytes(32)), band, reg.CurrentPeriod)
		require.NoError(t, reg.ProcessPayment(auth, note.Cm, note.Band))
	}

	require.Equal(t, uint64(4), reg.TotalProcessed)
	require.Equal(t, uint64(12), reg.TotalBandSum)
	require.Equal(t, [NumBands]uint64{1, 0, 2, 0, 1}, reg.BandCounts)
	require.Equal(t, uint64(4), reg.Payments.NextIndex)
}

func TestProcessPaymentGuards(t *testing.T) {
	adminSk, reg := newTestRegistry(t)
	cm := ledger.RandomBytes(32)

	require.ErrorIs(t, reg.ProcessPayment(Auth{AdminSk: adminSk}, cm, 0), ledger.ErrProofInvalid)
	require.ErrorIs(t, reg.ProcessPayment(Auth{AdminSk: adminSk}, cm, 6), ledger.ErrProofInvalid)
	require.ErrorIs(t, reg.ProcessPayment(Auth{}, cm, 3), ledger.ErrUnauthorized)
	require.ErrorIs(t, reg.ProcessPayment(Auth{AdminSk: ledger.RandomBytes(32)}, cm, 3), ledger.ErrUnauthorized)

	// An approver proof without an identity registry cannot authorize
	err := reg.ProcessPayment(Auth{Approver: nil}, cm, 3)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	require.Equal(t, uint64(0), reg.TotalProcessed)
}

func TestConfirmReceiptGuardOrder(t *testing.T) {
	adminSk, reg := newTestRegistry(t)
	require.NoError(t, reg.ProcessPayment(Auth{AdminSk: adminSk}, ledger.RandomBytes(32), 2))

	t.Run("nil statement", func(t *testing.T) {
		require.ErrorIs(t, reg.ConfirmReceipt(nil), ledger.ErrProofInvalid)
	})

	t.Run("wrong period", func(t *testing.T) {
		st := &ClaimStatement{Root: reg.Payments.Root(), Period: reg.CurrentPeriod + 1}
		require.ErrorIs(t, reg.ConfirmReceipt(st), ledger.ErrProofInvalid)
	})

	t.Run("unknown root", func(t *testing.T) {
		st := &ClaimStatement{Root: ledger.RandomBytes(32), Period: reg.CurrentPeriod}
		require.ErrorIs(t, reg.ConfirmReceipt(st), ledger.ErrStaleRoot)
	})

	t.Run("repeated nullifier", func(t *testing.T) {
		nf := ledger.RandomBytes(32)
		reg.Receipts.Add(nf)
		st := &ClaimStatement{
			Root:             reg.Payments.Root(),
			ReceiptNullifier: nf,
			Period:           reg.CurrentPeriod,
		}
		require.ErrorIs(t, reg.ConfirmReceipt(st), ledger.ErrAlreadyClaimed)
	})
}

func TestVerifyRangeGuards(t *testing.T) {
	_, reg := newTestRegistry(t)

	require.ErrorIs(t, reg.VerifyRange(nil), ledger.ErrProofInvalid)

	for _, bounds := range [][2]uint8{{0, 3}, {1, 6}, {4, 2}} {
		st := &RangeStatement{Root: reg.Payments.Root(), Lower: bounds[0], Upper: bounds[1]}
		require.ErrorIs(t, reg.VerifyRange(st), ledger.ErrProofInvalid, "bounds %v", bounds)
	}

	st := &RangeStatement{Root: ledger.RandomBytes(32), Lower: 1, Upper: 3}
	require.ErrorIs(t, reg.VerifyRange(st), ledger.ErrStaleRoot)
}

func TestAdvancePeriod(t *testing.T) {
	adminSk, reg := newTestRegistry(t)

	require.Equal(t, uint64(1), reg.CurrentPeriod)
	require.NoError(t, reg.AdvancePeriod(adminSk))
	require.Equal(t, uint64(2), reg.CurrentPeriod)

	require.ErrorIs(t, reg.AdvancePeriod(ledger.RandomBytes(32)), ledger.ErrUnauthorized)
}

func TestRaiseDisputeRequiresIdentity(t *testing.T) {
	_, reg := newTestRegistry(t)
	require.ErrorIs(t, reg.RaiseDispute(nil), ledger.ErrUnauthorized)
	require.Equal(t, uint64(0), reg.DisputeCount)
}

func TestOutboxIsACopy(t *testing.T) {
	adminSk, reg := newTestRegistry(t)
	require.NoError(t, reg.ProcessPayment(Auth{AdminSk: adminSk}, ledger.RandomBytes(32), 1))

	reg.TokenOutbox = append(reg.TokenOutbox, ledger.FieldString(ledger.RandomBytes(32)))
	out := reg.Outbox()
	require.Len(t, out, 1)
	out[0] = "tampered"
	require.NotEqual(t, "tampered", reg.TokenOutbox[0])
}

func TestPaymentNoteFreshness(t *testing.T) {
	payeePk := ledger.PublicKey(ledger.RandomBytes(32))
	a := NewPaymentNote(payeePk, 3, 1)
	b := NewPaymentNote(payeePk, 3, 1)
	require.NotEqual(t, a.Cm, b.Cm)
	require.Equal(t, a.Cm, ledger.PaymentCommitment(payeePk, a.Band, a.Period, a.Rho, a.R))
}

func TestSaveAndLoad(t *testing.T) {
	adminSk, reg := newTestRegistry(t)
	auth := Auth{AdminSk: adminSk}
	for _, band := range []uint8{2, 4} {
		require.NoError(t, reg.ProcessPayment(auth, ledger.RandomBytes(32), band))
	}
	reg.TokenOutbox = append(reg.TokenOutbox, ledger.FieldString(ledger.RandomBytes(32)))

	path := filepath.Join(t.TempDir(), "payment.json")
	require.NoError(t, reg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, reg.Snapshot(), loaded.Snapshot())
	require.Equal(t, reg.TokenOutbox, loaded.TokenOutbox)
	require.Equal(t, reg.BandCounts, loaded.BandCounts)

	// The admin key survives the round trip
	require.NoError(t, loaded.ProcessPayment(auth, ledger.RandomBytes(32), 1))
}
