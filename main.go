// main.go - End-to-end compensation-and-review scenario.
//
// This demonstrates a full cycle across the three registries:
//   - the identity admin onboards one approver and N employees
//   - the approver attests N payments, one per employee
//   - each employee claims their receipt and obtains a review token
//   - the bridge relays the token commitments into the review registry
//   - each employee submits an anonymous review against their token
//   - the ledgers show rating tallies that nobody can link to a payee
//
// Usage:
//
//	go run main.go
//
// Architecture:
//   - Each registry persists to its own JSON snapshot (public, append-only)
//   - Groth16 keys are generated once and cached under keys/
//   - Secrets (credentials, notes, tokens) stay client-side and never
//     appear in any snapshot
package main

import (
	"fmt"
	"log"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"anonledger/internal/bridge"
	"anonledger/internal/ledger"
	"anonledger/internal/registries/identity"
	"anonledger/internal/registries/payment"
	"anonledger/internal/registries/review"
)

const N = 4

func setupCircuit(circuit frontend.Circuit, name string) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey) {
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		log.Fatalf("ERROR: %s compilation failed: %v", name, err)
	}
	pk, vk, err := ledger.SetupOrLoadKeys(ccs, "keys/"+name+"_pk.bin", "keys/"+name+"_vk.bin")
	if err != nil {
		log.Fatalf("ERROR: %s key setup failed: %v", name, err)
	}
	return ccs, pk, vk
}

func main() {
	log.Println("=== Anonymous Compensation Ledger: End-to-End Scenario ===")

	// 1. Setup: compile all required circuits and generate/load ZKP keys
	ccsApprover, pkApprover, vkApprover := setupCircuit(identity.NewMembershipCircuit(identity.ApproverTreeDepth), "membership_approver")
	_, _, vkEmployee := setupCircuit(identity.NewMembershipCircuit(identity.EmployeeTreeDepth), "membership_employee")
	ccsClaim, pkClaim, vkClaim := setupCircuit(payment.NewClaimCircuit(payment.PaymentTreeDepth), "claim")
	ccsRange, pkRange, vkRange := setupCircuit(payment.NewBandRangeCircuit(payment.PaymentTreeDepth), "band_range")
	ccsReview, pkReview, vkReview := setupCircuit(review.NewReviewCircuit(review.TokenTreeDepth), "review")
	log.Println("All circuits compiled, keys ready.")

	// 2. Bootstrap the three registries under one admin key
	adminSk := ledger.RandomBytes(32)
	adminKeyCm := ledger.PublicKey(adminSk)

	ids := identity.NewRegistry(adminKeyCm)
	ids.SetVerifyingKeys(vkEmployee, vkApprover)
	pay := payment.NewRegistry(adminKeyCm, ids)
	pay.SetVerifyingKeys(vkClaim, vkRange)
	rev := review.NewRegistry(adminKeyCm)
	rev.SetVerifyingKey(vkReview)
	relayer := bridge.NewRelayer()

	// 3. Registration phase: one approver, N employees
	log.Println("=== Registration Phase ===")
	approver := identity.NewCredential()
	if err := ids.Apply(identity.AddApproverOp{AdminSk: adminSk, Commitment: approver.Cm}); err != nil {
		log.Fatalf("ERROR: add approver failed: %v", err)
	}
	approver.Index = ids.Approvers.NextIndex - 1

	employees := make([]*identity.Credential, N)
	for i := 0; i < N; i++ {
		cred := identity.NewCredential()
		op := identity.OnboardMemberOp{
			Auth:       identity.Auth{AdminSk: adminSk},
			Commitment: cred.Cm,
		}
		if err := ids.Apply(op); err != nil {
			log.Fatalf("ERROR: onboard employee %d failed: %v", i+1, err)
		}
		cred.Index = ids.Employees.NextIndex - 1
		employees[i] = cred
		log.Printf("[INFO] Employee %d onboarded (leaf %d).", i+1, cred.Index)
	}

	// 4. Payment phase: the approver attests one payment per employee
	log.Println("=== Payment Phase ===")
	approverProof, err := identity.ProveMembership(approver, ids.Approvers, pkApprover, ccsApprover)
	if err != nil {
		log.Fatalf("ERROR: approver membership proof failed: %v", err)
	}

	bands := []uint8{2, 3, 3, 5}
	notes := make([]*payment.PaymentNote, N)
	for i, cred := range employees {
		payeePk := ledger.PublicKey(cred.Sk)
		note := payment.NewPaymentNote(payeePk, bands[i], pay.CurrentPeriod)
		op := payment.ProcessPaymentOp{
			Auth:       payment.Auth{Approver: approverProof},
			Commitment: note.Cm,
			Band:       note.Band,
		}
		if err := pay.Apply(op); err != nil {
			log.Fatalf("ERROR: process payment %d failed: %v", i+1, err)
		}
		note.Index = pay.Payments.NextIndex - 1
		notes[i] = note
		log.Printf("[INFO] Payment %d processed in band %d.", i+1, note.Band)
	}

	// 5. Claim phase: each employee confirms receipt and keeps their token
	log.Println("=== Claim Phase ===")
	tokens := make([]*payment.ReviewToken, N)
	for i, cred := range employees {
		st, token, err := payment.Claim(cred.Sk, notes[i], pay.Payments, pay.CurrentPeriod, pkClaim, ccsClaim)
		if err != nil {
			log.Fatalf("ERROR: claim %d proving failed: %v", i+1, err)
		}
		if err := pay.Apply(payment.ConfirmReceiptOp{Statement: st}); err != nil {
			log.Fatalf("ERROR: confirm receipt %d failed: %v", i+1, err)
		}
		tokens[i] = token
		log.Printf("[INFO] Receipt %d confirmed, review token issued.", i+1)
	}

	// A second confirmation of the same receipt must be rejected
	st, _, err := payment.Claim(employees[0].Sk, notes[0], pay.Payments, pay.CurrentPeriod, pkClaim, ccsClaim)
	if err != nil {
		log.Fatalf("ERROR: duplicate claim proving failed: %v", err)
	}
	if err := pay.Apply(payment.ConfirmReceiptOp{Statement: st}); err != nil {
		log.Printf("[INFO] Duplicate receipt rejected as expected: %v", err)
	} else {
		log.Fatalf("ERROR: duplicate receipt was accepted")
	}

	// Band range disclosure: employee 1 proves their band lies in [1, 3]
	rangeSt, err := payment.ProveRange(employees[0].Sk, notes[0], pay.Payments, 1, 3, pkRange, ccsRange)
	if err != nil {
		log.Fatalf("ERROR: range proving failed: %v", err)
	}
	if err := pay.VerifyRange(rangeSt); err != nil {
		log.Fatalf("ERROR: range verification failed: %v", err)
	}
	log.Println("[INFO] Band range disclosure [1,3] verified.")

	// 6. Bridge phase: relay token commitments into the review registry
	log.Println("=== Bridge Phase ===")
	relayed, err := relayer.Relay(adminSk, pay, rev)
	if err != nil {
		log.Fatalf("ERROR: bridge relay failed: %v", err)
	}
	for i, rec := range relayer.Records {
		tokens[i].Index = rec.LeafIndex
	}
	log.Printf("[INFO] Relayed %d review tokens.", relayed)

	// 7. Review phase: each employee submits an anonymous review
	log.Println("=== Review Phase ===")
	scores := [review.NumCategories]uint8{5, 4, 3, 4, 5}
	for i, token := range tokens {
		content := ledger.MimcHashPublic([]byte(fmt.Sprintf("review body %d", i+1))).Bytes()
		st, err := review.Submit(token, rev.Tokens, rev.CurrentPeriod, content, scores, pkReview, ccsReview)
		if err != nil {
			log.Fatalf("ERROR: review %d proving failed: %v", i+1, err)
		}
		if err := rev.Apply(review.SubmitReviewOp{Statement: st}); err != nil {
			log.Fatalf("ERROR: review %d rejected: %v", i+1, err)
		}
		log.Printf("[INFO] Review %d accepted.", i+1)
	}

	// A second review from the same token in the same period must be rejected
	content := ledger.MimcHashPublic([]byte("second attempt")).Bytes()
	dupSt, err := review.Submit(tokens[0], rev.Tokens, rev.CurrentPeriod, content, scores, pkReview, ccsReview)
	if err != nil {
		log.Fatalf("ERROR: duplicate review proving failed: %v", err)
	}
	if err := rev.Apply(review.SubmitReviewOp{Statement: dupSt}); err != nil {
		log.Printf("[INFO] Duplicate review rejected as expected: %v", err)
	} else {
		log.Fatalf("ERROR: duplicate review was accepted")
	}

	// 8. Offboarding: employee 1 leaves, their credential stops verifying
	log.Println("=== Offboarding Phase ===")
	off := identity.OffboardMemberOp{
		Auth:      identity.Auth{AdminSk: adminSk},
		Nullifier: employees[0].RevocationNullifier(),
	}
	if err := ids.Apply(off); err != nil {
		log.Fatalf("ERROR: offboard failed: %v", err)
	}
	log.Println("[INFO] Employee 1 offboarded; revocation nullifier recorded.")

	// 9. Persist all ledgers and print the public summary
	if err := ids.SaveToFile("identity.json"); err != nil {
		log.Fatalf("ERROR: saving identity ledger: %v", err)
	}
	if err := pay.SaveToFile("payment.json"); err != nil {
		log.Fatalf("ERROR: saving payment ledger: %v", err)
	}
	if err := rev.SaveToFile("review.json"); err != nil {
		log.Fatalf("ERROR: saving review ledger: %v", err)
	}
	if err := relayer.SaveToFile("bridge.json"); err != nil {
		log.Fatalf("ERROR: saving bridge state: %v", err)
	}

	log.Println("=== Public Ledger Summary ===")
	log.Printf("Employees onboarded: %d, approvers: %d, revoked: %d",
		ids.Employees.NextIndex, ids.Approvers.NextIndex, ids.Revoked.Len())
	log.Printf("Payments processed: %d, receipts claimed: %d, band counts: %v",
		pay.TotalProcessed, pay.Receipts.Len(), pay.BandCounts)
	log.Printf("Reviews recorded: %d", rev.TotalReviews)
	for c := 0; c < review.NumCategories; c++ {
		row := make([]uint64, review.NumScores)
		for s := uint8(1); s <= review.NumScores; s++ {
			row[s-1] = rev.Rating(c, s)
		}
		log.Printf("  %-14s %v", review.CategoryNames[c], row)
	}
	log.Println("Scenario complete.")
}
