package attestation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEncoding means the verifier service could not encode the request. It
	// is fatal for the attempt: encoding is deterministic.
	ErrEncoding = errors.New("attestation encoding failed")
	// ErrSubmission means the hub transaction failed. It is never retried
	// automatically since a retry could double-submit and double-charge.
	ErrSubmission = errors.New("attestation submission failed")
	// ErrSubmissionUnsettled means a request transaction was broadcast but its
	// receipt was not seen. Settle it by its hash later; never send it again.
	ErrSubmissionUnsettled = errors.New("attestation submission not settled")
	// ErrProofUnavailable means no candidate round produced a proof. The
	// round may still finalize; re-enter Searching later.
	ErrProofUnavailable = errors.New("attestation proof unavailable")
	// ErrVerificationFailed means the Merkle path did not reconstruct the
	// published root. The proof must not be used.
	ErrVerificationFailed = errors.New("attestation proof verification failed")
	// ErrDecode means the response bytes did not match the declared shape.
	ErrDecode = errors.New("attestation payload decode failed")
	// ErrRoundPassed means the search window moved past the round a request
	// was accepted into. Searching again cannot find its proof.
	ErrRoundPassed = errors.New("attestation round passed the search window")
)

// Stage is a step of one attestation lifecycle.
type Stage int

const (
	StageBuilding Stage = iota
	StageSubmitted
	StageSearching
	StageVerified
	StageDecoded
)

var stageNames = [...]string{"building", "submitted", "searching", "verified", "decoded"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError ties a failure to the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ProofUnavailableError is returned when every candidate round was queried
// without finding a proof.
type ProofUnavailableError struct {
	Rounds []uint64
	// LastErr is the last per-attempt failure that was not a plain "not ready".
	LastErr error
}

func (e *ProofUnavailableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v after %d attempts", ErrProofUnavailable, len(e.Rounds))
	if len(e.Rounds) > 0 {
		fmt.Fprintf(&b, " (rounds %d..%d)", e.Rounds[0], e.Rounds[len(e.Rounds)-1])
	}
	if e.LastErr != nil {
		fmt.Fprintf(&b, ": last error: %v", e.LastErr)
	}
	return b.String()
}

func (e *ProofUnavailableError) Is(target error) bool {
	return target == ErrProofUnavailable
}

// RoundPassedError is returned when the latest round is too far ahead of the
// round a request was accepted into.
type RoundPassedError struct {
	Round  uint64
	Latest uint64
}

func (e *RoundPassedError) Error() string {
	return fmt.Sprintf("%v: round %d, latest round %d", ErrRoundPassed, e.Round, e.Latest)
}

func (e *RoundPassedError) Is(target error) bool {
	return target == ErrRoundPassed
}

// IsRetryable reports whether the lifecycle can be continued later. Only an
// exhausted search or an unsettled submission qualifies; everything else is
// terminal for the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProofUnavailable) || errors.Is(err, ErrSubmissionUnsettled)
}

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrEncoding, ErrSubmission, ErrProofUnavailable, ErrRoundPassed, ErrVerificationFailed, ErrDecode} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
