// Package terms handles trade-terms fingerprinting and mirror validation.
//
// Two parties agree on a trade without re-transmitting the full terms: the
// proposer's terms are hashed into a fingerprint, and the confirming party's
// submission is hashed over its expected mirror and compared. The fingerprint
// is a SHA-256 over the canonical JSON encoding of the terms struct.
package terms

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qualitax/swap-engine/internal/model"
)

var (
	ErrSelfCounterparty = errors.New("terms: counterparty must differ from party")
	ErrZeroPosition     = errors.New("terms: position must be +1 or -1")
)

// Fingerprint computes the collision-resistant digest of a full set of trade
// terms. Encoding is canonical: json.Marshal of a fixed struct emits fields
// in declaration order, so equal terms always produce equal digests.
func Fingerprint(t model.TradeTerms) string {
	b, err := json.Marshal(t)
	if err != nil {
		// TradeTerms contains only marshalable fields; unreachable.
		panic(fmt.Sprintf("terms: marshal: %v", err))
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Validate checks a proposal's terms for structural soundness before any
// state mutation.
func Validate(t model.TradeTerms) error {
	if t.Party == t.Counterparty {
		return fmt.Errorf("%w: %s", ErrSelfCounterparty, t.Party)
	}
	if t.Position != 1 && t.Position != -1 {
		return fmt.Errorf("%w: got %d", ErrZeroPosition, t.Position)
	}
	return nil
}

// MatchesProposal reports whether the confirming party's submission is the
// exact mirror of the stored proposal fingerprint. The confirmer submits the
// terms from its own perspective; mirroring back must reproduce the
// proposer's fingerprint exactly — equal addresses with swapped roles,
// exactly negated position and payment amount, identical data blobs.
func MatchesProposal(storedFingerprint string, confirming model.TradeTerms) bool {
	return Fingerprint(confirming.Mirror()) == storedFingerprint
}
