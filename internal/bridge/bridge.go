// Package bridge implements the relay step that copies review-token
// commitments from the payment registry's outbox into the review registry's
// token tree.
//
// No native cross-ledger call exists: the admin reads the outbox (an
// off-ledger administrative read) and invokes importToken on the review
// registry, signed by the same admin key both ledgers recognize. The relay
// cannot forge a token's contents because the commitment is opaque and was
// already fixed by the payment registry; what the relay controls is only
// timeliness and completeness, which is why every relayed commitment is
// recorded for audit.
package bridge

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"

	"anonledger/internal/registries/payment"
	"anonledger/internal/registries/review"
)

// Record is the auditable trace of one relayed token commitment.
type Record struct {
	ID              string    `json:"id"`
	TokenCommitment string    `json:"token_commitment"`
	LeafIndex       uint64    `json:"leaf_index"`
	RelayedAt       time.Time `json:"relayed_at"`
}

// Relayer drains the payment outbox into the review registry. The cursor
// marks how far the outbox has been relayed; entries before it are done.
type Relayer struct {
	Cursor  int      `json:"cursor"`
	Records []Record `json:"records"`
}

// NewRelayer creates a relayer with an empty audit log.
func NewRelayer() *Relayer {
	return &Relayer{Records: make([]Record, 0)}
}

// Relay imports every pending token commitment, in outbox order. It stops
// at the first rejected import and leaves the remainder queued, so a retry
// resumes where it left off. Returns the number of tokens relayed.
func (b *Relayer) Relay(adminSk []byte, pay *payment.Registry, rev *review.Registry) (int, error) {
	pending := pay.Outbox()
	relayed := 0
	for i := b.Cursor; i < len(pending); i++ {
		cm, ok := new(big.Int).SetString(pending[i], 10)
		if !ok {
			return relayed, fmt.Errorf("malformed outbox entry at %d", i)
		}
		index, err := rev.ImportToken(adminSk, cm.Bytes())
		if err != nil {
			return relayed, fmt.Errorf("import token %d: %w", i, err)
		}
		b.Records = append(b.Records, Record{
			ID:              uuid.NewString(),
			TokenCommitment: pending[i],
			LeafIndex:       index,
			RelayedAt:       time.Now().UTC(),
		})
		b.Cursor = i + 1
		relayed++
	}
	return relayed, nil
}

// Pending returns how many outbox entries have not been relayed yet.
func (b *Relayer) Pending(pay *payment.Registry) int {
	n := len(pay.Outbox()) - b.Cursor
	if n < 0 {
		return 0
	}
	return n
}

// SaveToFile persists the relay log as JSON.
func (b *Relayer) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// LoadFromFile loads a relay log from JSON.
func LoadFromFile(path string) (*Relayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var b Relayer
	if err := json.NewDecoder(f).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
