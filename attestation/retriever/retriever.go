// Package retriever searches a bounded window of voting rounds for the proof of
// an attestation.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/dalayer"
	"github.com/trufnetwork/fdc-relay/attestation/rounds"
)

// Status is the result of probing one round.
type Status int

const (
	// Found means the round returned at least one proof.
	Found Status = iota
	// NotReady means the round has not been published yet.
	NotReady
	// Failed covers every other per-round failure.
	Failed
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case NotReady:
		return "not_ready"
	default:
		return "failed"
	}
}

// Attempt records what happened when one round was queried.
type Attempt struct {
	RoundID  uint64
	Status   Status
	Proofs   []*attestation.ProofRecord
	Err      error
	Duration time.Duration
}

// Outcome is a successful search.
type Outcome struct {
	RoundID  uint64
	Proofs   []*attestation.ProofRecord
	Attempts []Attempt
}

// Proof returns the first proof found.
func (o *Outcome) Proof() *attestation.ProofRecord {
	if o == nil || len(o.Proofs) == 0 {
		return nil
	}
	return o.Proofs[0]
}

// Fetcher asks the DA layer for proofs in one round. It returns
// dalayer.ErrNotReady (possibly wrapped) when the round has nothing yet.
type Fetcher interface {
	Fetch(ctx context.Context, round uint64) ([]*attestation.ProofRecord, error)
}

type FetcherFunc func(ctx context.Context, round uint64) ([]*attestation.ProofRecord, error)

func (f FetcherFunc) Fetch(ctx context.Context, round uint64) ([]*attestation.ProofRecord, error) {
	return f(ctx, round)
}

type Retriever struct {
	policy     rounds.Policy
	newBackOff func() backoff.BackOff
	observe    func(Attempt)
	logger     *zap.Logger
}

type Option func(*Retriever)

func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l.Named("retriever") }
}

// WithBackOff sets the wait between attempts. A fresh BackOff is created for
// every search.
//
// A BackOff that returns backoff.Stop ends the search before every candidate
// round was queried, so the search is no longer bounded by the policy alone.
// The factories of BackOffConfig never stop; a custom BackOff that does must
// accept fewer than MaxAttempts queries per search.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *Retriever) { r.newBackOff = newBackOff }
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(Attempt)) Option {
	return func(r *Retriever) { r.observe = fn }
}

func New(policy rounds.Policy, opts ...Option) *Retriever {
	r := &Retriever{
		policy:     policy,
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		observe:    func(Attempt) {},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retriever) Policy() rounds.Policy { return r.policy }

// Retrieve queries the candidate rounds for latest in order and returns on the
// first round that yields proofs. Rounds are queried one at a time and each at
// most once. When every candidate is exhausted the error is a
// *attestation.ProofUnavailableError.
//
// When the window for latest no longer reaches the policy floor the floor
// round can never be queried again and the error is a
// *attestation.RoundPassedError, which is not retryable.
func (r *Retriever) Retrieve(ctx context.Context, f Fetcher, latest uint64) (*Outcome, error) {
	if r.policy.Passed(latest) {
		return nil, &attestation.RoundPassedError{Round: r.policy.Floor, Latest: latest}
	}
	candidates := r.policy.Candidates(latest)
	if len(candidates) == 0 {
		return nil, &attestation.ProofUnavailableError{
			LastErr: fmt.Errorf("no candidate round for latest round %d with %s", latest, r.policy),
		}
	}

	b := r.newBackOff()
	b.Reset()

	var (
		attempts []Attempt
		lastErr  error
	)
	for i, round := range candidates {
		if i > 0 {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				r.logger.Info("backoff stopped search early", zap.Int("attempts", len(attempts)))
				break
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt := r.try(ctx, f, round)
		attempts = append(attempts, attempt)
		r.observe(attempt)

		switch attempt.Status {
		case Found:
			r.logger.Info("proof found",
				zap.Uint64("round", round),
				zap.Int("attempt", i+1),
				zap.Int("proofs", len(attempt.Proofs)))
			return &Outcome{RoundID: round, Proofs: attempt.Proofs, Attempts: attempts}, nil
		case NotReady:
			r.logger.Debug("round not ready", zap.Uint64("round", round), zap.Int("attempt", i+1))
		case Failed:
			lastErr = attempt.Err
			r.logger.Warn("proof attempt failed",
				zap.Uint64("round", round),
				zap.Int("attempt", i+1),
				zap.Error(attempt.Err))
		}
	}

	tried := make([]uint64, len(attempts))
	for i, a := range attempts {
		tried[i] = a.RoundID
	}
	return nil, &attestation.ProofUnavailableError{Rounds: tried, LastErr: lastErr}
}

func (r *Retriever) try(ctx context.Context, f Fetcher, round uint64) Attempt {
	start := time.Now()
	proofs, err := f.Fetch(ctx, round)
	a := Attempt{RoundID: round, Duration: time.Since(start)}
	switch {
	case errors.Is(err, dalayer.ErrNotReady):
		a.Status = NotReady
	case err != nil:
		a.Status = Failed
		a.Err = err
	case len(proofs) == 0:
		a.Status = NotReady
	default:
		a.Status = Found
		a.Proofs = proofs
	}
	return a
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
