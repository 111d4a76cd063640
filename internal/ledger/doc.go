// Package ledger implements the cryptographic primitives shared by the three
// registries of the anonymous compensation-and-review protocol.
//
// Overview:
//   - MiMC-based commitments and nullifiers with per-use domain tags
//   - Append-only Merkle trees with a bounded window of historic roots
//   - Insert-once nullifier sets for double-claim and double-review guards
//   - Groth16 key management helpers (setup, save, load)
//
// Security Model:
//   - Uses MiMC hash (BW6-761 scalar field) for commitments, PRFs, and tree nodes
//   - Zero-knowledge proofs are generated and verified using gnark (Groth16, BW6-761)
//   - All randomness is generated using crypto/rand
//   - Nullifiers prevent double consumption; commitments ensure confidentiality
//
// Each registry owns its own trees, sets, and counters built from these
// primitives; no registry mutates another's state directly.
package ledger
