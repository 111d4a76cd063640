package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublicKeyDerivation(t *testing.T) {
	sk := RandomBytes(32)
	require.Equal(t, PublicKey(sk), PublicKey(sk))
	require.NotEqual(t, PublicKey(sk), PublicKey(RandomBytes(32)))
}

func TestIdentityCommitmentHiding(t *testing.T) {
	pk := PublicKey(RandomBytes(32))
	r1 := RandomBytes(32)
	r2 := RandomBytes(32)

	require.Equal(t, IdentityCommitment(pk, r1), IdentityCommitment(pk, r1))
	require.NotEqual(t, IdentityCommitment(pk, r1), IdentityCommitment(pk, r2))
}

func TestRevocationNullifierDeterminism(t *testing.T) {
	sk := RandomBytes(32)
	require.Equal(t, RevocationNullifier(sk), RevocationNullifier(sk))
	require.NotEqual(t, RevocationNullifier(sk), RevocationNullifier(RandomBytes(32)))

	// The nullifier must not equal the public key despite sharing the secret
	require.NotEqual(t, PublicKey(sk), RevocationNullifier(sk))
}

func TestPaymentCommitmentFreshness(t *testing.T) {
	payeePk := PublicKey(RandomBytes(32))
	rho := RandomBytes(32)
	r := RandomBytes(32)

	cm := PaymentCommitment(payeePk, 3, 1, rho, r)
	require.Equal(t, cm, PaymentCommitment(payeePk, 3, 1, rho, r))

	// Any changed input yields a different commitment
	require.NotEqual(t, cm, PaymentCommitment(payeePk, 4, 1, rho, r))
	require.NotEqual(t, cm, PaymentCommitment(payeePk, 3, 2, rho, r))
	require.NotEqual(t, cm, PaymentCommitment(payeePk, 3, 1, RandomBytes(32), r))
	require.NotEqual(t, cm, PaymentCommitment(payeePk, 3, 1, rho, RandomBytes(32)))
}

func TestReviewNullifierPeriodScoping(t *testing.T) {
	secret := RandomBytes(32)
	require.Equal(t, ReviewNullifier(secret, 1), ReviewNullifier(secret, 1))
	require.NotEqual(t, ReviewNullifier(secret, 1), ReviewNullifier(secret, 2))
	require.NotEqual(t, ReviewNullifier(secret, 1), ReviewNullifier(RandomBytes(32), 1))
}

func TestTokenCommitmentUnlinkable(t *testing.T) {
	secret := RandomBytes(32)
	cm1 := TokenCommitment(secret, 1, RandomBytes(32))
	cm2 := TokenCommitment(secret, 1, RandomBytes(32))
	require.NotEqual(t, cm1, cm2)
}

func TestDigestCanonicalForm(t *testing.T) {
	// Every digest survives a decimal round trip unchanged, so tree leaves
	// and outbox entries stay byte-identical across relays.
	for i := 0; i < 64; i++ {
		d := PublicKey(RandomBytes(32))
		n, ok := new(big.Int).SetString(FieldString(d), 10)
		require.True(t, ok)
		require.Equal(t, d, n.Bytes())
	}
}

func TestDomainTagsDistinct(t *testing.T) {
	tags := [][]byte{TagIdentity, TagRevocation, TagPayment, TagReceipt, TagToken, TagReview}
	seen := make(map[string]struct{})
	for _, tag := range tags {
		v := TagValue(tag).String()
		_, dup := seen[v]
		require.False(t, dup, "duplicate domain tag value %s", v)
		seen[v] = struct{}{}
	}
}
