// crypto.go - Commitment and nullifier derivation for the protocol.
//
// Implements MiMC-based PRFs and commitments with per-use domain tags.
// All cryptographic operations use secure randomness and are designed for
// unlinkability: a commitment never reveals its opening, and a nullifier
// never reveals the secret it consumes.

package ledger

import (
	"crypto/rand"
	"math/big"

	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// Domain tags separate the hash domains of the different commitment and
// nullifier derivations. Each tag is absorbed as a field element, so the
// in-circuit recomputation uses the same integer constants (see TagValue).
var (
	TagIdentity   = []byte("al.id.leaf")
	TagRevocation = []byte("al.id.revoke")
	TagPayment    = []byte("al.pay.leaf")
	TagReceipt    = []byte("al.pay.receipt")
	TagToken      = []byte("al.token.leaf")
	TagReview     = []byte("al.review.nf")
)

// TagValue returns the field-element form of a domain tag for circuit use.
func TagValue(tag []byte) *big.Int {
	return new(big.Int).SetBytes(tag)
}

// sumTrimmed finalizes a hash as canonical big-endian bytes with leading
// zeros stripped, so digests survive the decimal-string round trip used for
// ledger-visible values.
func sumTrimmed(h interface{ Sum([]byte) []byte }) []byte {
	return new(big.Int).SetBytes(h.Sum(nil)).Bytes()
}

// mimcHash computes MiMC hash of input bytes.
func mimcHash(data []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(data)
	return sumTrimmed(h)
}

// randomBytes generates random bytes of specified length using crypto/rand.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// RandomBytes is the public wrapper for randomBytes.
// Use this for all protocol randomness.
func RandomBytes(n int) []byte {
	return randomBytes(n)
}

// PublicKey derives the public identity key pk = MiMC(sk).
func PublicKey(sk []byte) []byte {
	return mimcHash(sk)
}

// IdentityCommitment commits to an identity: cm = MiMC(tag || pk || r).
// The leaf is opaque on the ledger; only the secret holder can open it.
func IdentityCommitment(pk, r []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(TagIdentity)
	h.Write(pk)
	h.Write(r)
	return sumTrimmed(h)
}

// RevocationNullifier derives the nullifier that disables an identity:
// nf = MiMC(sk || tag). Revealing it consumes the identity without
// revealing which leaf it corresponds to.
func RevocationNullifier(sk []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(sk)
	h.Write(TagRevocation)
	return sumTrimmed(h)
}

// PaymentCommitment commits to a payment event:
// cm = MiMC(tag || payeePk || band || period || rho || r).
// The exact amount is never committed, only the coarse band index.
func PaymentCommitment(payeePk []byte, band uint8, period uint64, rho, r []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(TagPayment)
	h.Write(payeePk)
	h.Write(new(big.Int).SetUint64(uint64(band)).Bytes())
	h.Write(new(big.Int).SetUint64(period).Bytes())
	h.Write(rho)
	h.Write(r)
	return sumTrimmed(h)
}

// ReceiptNullifier derives the one-time receipt consumption digest:
// nf = MiMC(payeeSk || tag || cm). Two reveals for the same commitment
// are rejected by the payment registry.
func ReceiptNullifier(payeeSk, cm []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(payeeSk)
	h.Write(TagReceipt)
	h.Write(cm)
	return sumTrimmed(h)
}

// TokenCommitment commits to a review-authorization token:
// cm = MiMC(tag || secret || period || r). A fresh secret and randomness
// are sampled on every receipt confirmation, so consecutive tokens carry
// no derivable relation without the secret.
func TokenCommitment(secret []byte, period uint64, r []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(TagToken)
	h.Write(secret)
	h.Write(new(big.Int).SetUint64(period).Bytes())
	h.Write(r)
	return sumTrimmed(h)
}

// ReviewNullifier derives the per-period consumption digest of a token:
// nf = MiMC(secret || tag || period). The same token yields a different
// nullifier once the review period advances.
func ReviewNullifier(secret []byte, period uint64) []byte {
	h := mimcNative.NewMiMC()
	h.Write(secret)
	h.Write(TagReview)
	h.Write(new(big.Int).SetUint64(period).Bytes())
	return sumTrimmed(h)
}

// FieldString renders a digest as the decimal string form used for
// ledger-visible values and circuit witnesses.
func FieldString(b []byte) string {
	return new(big.Int).SetBytes(b).String()
}

// MimcHashPublic exposes the raw MiMC hash for tests and key derivation.
func MimcHashPublic(data []byte) *big.Int {
	return new(big.Int).SetBytes(mimcHash(data))
}
