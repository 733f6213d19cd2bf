// Package verifier checks that a proof record is included in the Merkle tree
// published for its voting round.
package verifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
)

// Verifier reports whether rec is proven for an attestation of type t.
// A non-nil error means the check could not be performed.
type Verifier interface {
	Verify(ctx context.Context, t attestation.Type, rec *attestation.ProofRecord) (bool, error)
}

// Check runs v and marks rec verified on success. Both a negative answer and a
// check that could not run are reported as ErrVerificationFailed; an
// unverifiable proof is never passed on.
func Check(ctx context.Context, v Verifier, t attestation.Type, rec *attestation.ProofRecord, logger *zap.Logger) error {
	if rec == nil {
		return fmt.Errorf("%w: nil proof record", attestation.ErrVerificationFailed)
	}
	rec.Verified = false

	ok, err := v.Verify(ctx, t, rec)
	if err != nil {
		return fmt.Errorf("%w: round %d: %v", attestation.ErrVerificationFailed, rec.RoundID, err)
	}
	if !ok {
		logger.Warn("proof rejected",
			zap.String("type", string(t)),
			zap.Uint64("round", rec.RoundID),
			zap.Int("path_len", len(rec.MerklePath)))
		return fmt.Errorf("%w: round %d", attestation.ErrVerificationFailed, rec.RoundID)
	}
	rec.Verified = true
	return nil
}
