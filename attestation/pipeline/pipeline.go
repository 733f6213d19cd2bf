// Package pipeline drives one attestation through its lifecycle:
// Building, Submitted, Searching, Verified, Decoded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/attestation/hub"
	"github.com/trufnetwork/fdc-relay/attestation/retriever"
	"github.com/trufnetwork/fdc-relay/attestation/rounds"
	"github.com/trufnetwork/fdc-relay/attestation/verifier"
	"github.com/trufnetwork/fdc-relay/internal/ledger"
	"github.com/trufnetwork/fdc-relay/internal/metrics"
)

type Encoder interface {
	Encode(ctx context.Context, spec attestation.Spec) (attestation.EncodedRequest, error)
}

// Submitter sends requests to the hub. *hub.Submitter implements it.
type Submitter interface {
	Submit(ctx context.Context, request attestation.EncodedRequest, beforeSend func(*types.Transaction) error) (*hub.Submission, error)
	Settle(ctx context.Context, request attestation.EncodedRequest, txHash common.Hash, fee *big.Int) (*hub.Submission, error)
}

// DALayer is the read side of the data availability layer.
// *dalayer.Client implements it.
type DALayer interface {
	LatestRound(ctx context.Context) (uint64, error)
	retriever.ProofSource
	retriever.FeedSource
}

// Ledger records submissions. *ledger.Store implements it.
type Ledger interface {
	Create(e *ledger.Entry) error
	Get(key common.Hash) (*ledger.Entry, error)
	Update(key common.Hash, fn func(*ledger.Entry) error) (*ledger.Entry, error)
	Delete(key common.Hash) error
}

// ErrClosed is returned for a request whose ledger entry is failed or
// rejected. Nothing more is done for it.
var ErrClosed = errors.New("request is closed")

// Deps are the collaborators of a Pipeline. Ledger may be nil, in which case
// nothing is persisted and Resume is unavailable.
type Deps struct {
	Encoder   Encoder
	Submitter Submitter
	DA        DALayer
	Verifier  verifier.Verifier
	Ledger    Ledger
}

type Pipeline struct {
	deps       Deps
	policy     rounds.Policy
	newBackOff func() backoff.BackOff
	decoder    *decoder.Decoder
	metrics    metrics.MetricsRecorder
	logger     *zap.Logger
}

type Option func(*Pipeline)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l.Named("pipeline") }
}

func WithMetrics(m metrics.MetricsRecorder) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(p *Pipeline) { p.newBackOff = newBackOff }
}

func New(deps Deps, policy rounds.Policy, opts ...Option) *Pipeline {
	p := &Pipeline{
		deps:       deps,
		policy:     policy,
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		metrics:    metrics.NewNoOpMetrics(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.decoder = decoder.New(decoder.WithLogger(p.logger))
	return p
}

// Result describes a flow that reached Decoded.
type Result struct {
	FlowID     uuid.UUID
	Request    attestation.EncodedRequest
	Submission *hub.Submission
	RoundID    uint64
	Attempts   []retriever.Attempt
	Payload    decoder.Payload
}

// flow carries the per-attestation state through the stages.
type flow struct {
	id      uuid.UUID
	spec    attestation.Spec
	stage   attestation.Stage
	started time.Time
	entered time.Time
	logger  *zap.Logger
}

func (p *Pipeline) newFlow(ctx context.Context, spec attestation.Spec) *flow {
	now := time.Now()
	f := &flow{id: uuid.New(), spec: spec, stage: attestation.StageBuilding, started: now, entered: now}
	f.logger = p.logger.With(zap.String("flow_id", f.id.String()), zap.String("type", string(spec.Type)))
	p.metrics.RecordFlowStart(ctx, string(spec.Type))
	return f
}

// advance records the time spent in the current stage and moves to next.
func (p *Pipeline) advance(ctx context.Context, f *flow, next attestation.Stage) {
	now := time.Now()
	p.metrics.RecordStageDuration(ctx, string(f.spec.Type), f.stage.String(), now.Sub(f.entered))
	f.logger.Debug("stage complete", zap.Stringer("stage", f.stage), zap.Stringer("next", next))
	f.stage, f.entered = next, now
}

func (p *Pipeline) fail(ctx context.Context, f *flow, err error) error {
	p.metrics.RecordFlowError(ctx, string(f.spec.Type), f.stage.String(), metrics.ClassifyError(err))
	f.logger.Error("attestation failed",
		zap.Stringer("stage", f.stage),
		zap.Bool("retryable", attestation.IsRetryable(err)),
		zap.Error(err))
	return &attestation.StageError{Stage: f.stage, Err: err}
}

func (p *Pipeline) complete(ctx context.Context, f *flow) {
	p.metrics.RecordStageDuration(ctx, string(f.spec.Type), f.stage.String(), time.Since(f.entered))
	p.metrics.RecordFlowComplete(ctx, string(f.spec.Type), time.Since(f.started))
}

// Run takes spec through the whole lifecycle. consumer is stored with the
// submission for later delivery.
//
// A request already in the ledger is never submitted again: a broadcast
// transaction is settled by its receipt, a pending search is resumed, a
// resolved request returns its stored payload and a closed one fails with
// ErrClosed.
func (p *Pipeline) Run(ctx context.Context, spec attestation.Spec, consumer string) (*Result, error) {
	f := p.newFlow(ctx, spec)

	request, err := p.deps.Encoder.Encode(ctx, spec)
	if err != nil {
		return nil, p.fail(ctx, f, err)
	}
	f.logger = f.logger.With(zap.String("request_key", request.Key().Hex()))

	if p.deps.Ledger != nil {
		entry, err := p.deps.Ledger.Get(request.Key())
		switch {
		case err == nil:
			f.logger.Info("request already recorded",
				zap.String("status", string(entry.Status)),
				zap.String("tx_hash", entry.TxHash.Hex()))
			return p.continueEntry(ctx, f, request, entry)
		case !errors.Is(err, ledger.ErrNotFound):
			return nil, p.fail(ctx, f, fmt.Errorf("%w: ledger lookup: %v", attestation.ErrSubmission, err))
		}
	}
	p.advance(ctx, f, attestation.StageSubmitted)

	var (
		beforeSend func(*types.Transaction) error
		recorded   bool
	)
	if p.deps.Ledger != nil {
		// the transaction hash is durable before anything is broadcast
		beforeSend = func(tx *types.Transaction) error {
			err := p.deps.Ledger.Create(&ledger.Entry{
				Key:      request.Key(),
				Request:  []byte(request),
				Spec:     ledger.FromSpec(spec),
				TxHash:   tx.Hash(),
				Fee:      tx.Value(),
				Consumer: consumer,
				Status:   ledger.StatusSubmitting,
			})
			recorded = err == nil
			return err
		}
	}

	sub, err := p.deps.Submitter.Submit(ctx, request, beforeSend)
	if err != nil {
		if recorded {
			p.submissionFailed(request, err)
		}
		return nil, p.fail(ctx, f, err)
	}
	fee, _ := new(big.Float).SetInt(feeOrZero(sub.Fee)).Float64()
	p.metrics.RecordSubmission(ctx, string(spec.Type), fee)
	p.accepted(request, sub)
	return p.search(ctx, f, request, sub)
}

// Resume continues a request recorded in the ledger from where it stopped.
func (p *Pipeline) Resume(ctx context.Context, key common.Hash) (*Result, error) {
	if p.deps.Ledger == nil {
		return nil, errors.New("resume requires a ledger")
	}
	entry, err := p.deps.Ledger.Get(key)
	if err != nil {
		return nil, err
	}
	spec, err := entry.Spec.Spec()
	if err != nil {
		return nil, fmt.Errorf("stored spec for %s: %w", key.Hex(), err)
	}

	f := p.newFlow(ctx, spec)
	f.logger = f.logger.With(zap.String("request_key", key.Hex()))
	return p.continueEntry(ctx, f, attestation.EncodedRequest(entry.Request), entry)
}

func (p *Pipeline) continueEntry(ctx context.Context, f *flow, request attestation.EncodedRequest, entry *ledger.Entry) (*Result, error) {
	p.advance(ctx, f, attestation.StageSubmitted)

	switch entry.Status {
	case ledger.StatusFailed, ledger.StatusRejected:
		return nil, p.fail(ctx, f, fmt.Errorf("%w: %s is %s: %s", ErrClosed, entry.Key.Hex(), entry.Status, entry.LastError))
	case ledger.StatusResolved, ledger.StatusDelivered:
		return p.stored(ctx, f, request, entry)
	case ledger.StatusSubmitting:
		sub, err := p.deps.Submitter.Settle(ctx, request, entry.TxHash, entry.Fee)
		if err != nil {
			p.submissionFailed(request, err)
			return nil, p.fail(ctx, f, err)
		}
		p.accepted(request, sub)
		return p.search(ctx, f, request, sub)
	}
	return p.search(ctx, f, request, submissionOf(entry))
}

// stored rebuilds the result of a resolved request from its recorded
// response, which was verified before it was recorded.
func (p *Pipeline) stored(ctx context.Context, f *flow, request attestation.EncodedRequest, entry *ledger.Entry) (*Result, error) {
	if len(entry.Response) == 0 {
		return nil, p.fail(ctx, f, fmt.Errorf("%w: %s has no recorded response", ErrClosed, entry.Key.Hex()))
	}
	p.advance(ctx, f, attestation.StageDecoded)
	rec := &attestation.ProofRecord{RoundID: entry.ProofRound, Response: entry.Response, Verified: true}
	payload, err := p.decoder.Decode(f.spec, rec)
	if err != nil {
		return nil, p.fail(ctx, f, err)
	}
	p.complete(ctx, f)
	return &Result{
		FlowID:     f.id,
		Request:    request,
		Submission: submissionOf(entry),
		RoundID:    entry.ProofRound,
		Payload:    payload,
	}, nil
}

// accepted records the mined submission and opens the search.
func (p *Pipeline) accepted(request attestation.EncodedRequest, sub *hub.Submission) {
	p.record(request, func(e *ledger.Entry) {
		e.TxHash = sub.TxHash
		e.BlockNumber = sub.BlockNumber
		e.Timestamp = sub.Timestamp
		e.RoundID = sub.RoundID
		if sub.Fee != nil {
			e.Fee = sub.Fee
		}
		e.Status = ledger.StatusPending
		e.LastError = ""
	})
}

// submissionFailed settles the ledger entry of a failed submission. Nothing
// was sent for a not-sent failure, so the entry is dropped and the request
// can be submitted again. An unsettled one stays to be settled later.
func (p *Pipeline) submissionFailed(request attestation.EncodedRequest, err error) {
	switch {
	case errors.Is(err, hub.ErrNotSent):
		if derr := p.deps.Ledger.Delete(request.Key()); derr != nil {
			p.logger.Warn("failed to drop unsent request", zap.String("request_key", request.Key().Hex()), zap.Error(derr))
		}
	case errors.Is(err, attestation.ErrSubmissionUnsettled):
		p.record(request, func(e *ledger.Entry) { e.LastError = err.Error() })
	default:
		p.terminal(request, err)
	}
}

func (p *Pipeline) search(ctx context.Context, f *flow, request attestation.EncodedRequest, sub *hub.Submission) (*Result, error) {
	p.advance(ctx, f, attestation.StageSearching)

	// a request cannot be proven before the round it was accepted into
	policy := p.policy.WithFloor(sub.RoundID)
	outcome, err := p.retrieve(ctx, f, policy, retriever.RequestFetcher{Source: p.deps.DA, Request: request})
	p.record(request, func(e *ledger.Entry) {
		e.Searches++
		if err != nil {
			e.LastError = err.Error()
		}
	})
	if errors.Is(err, attestation.ErrRoundPassed) {
		p.terminal(request, err)
	}
	if err != nil {
		return nil, p.fail(ctx, f, err)
	}

	rec := outcome.Proof()
	p.advance(ctx, f, attestation.StageVerified)
	if err := verifier.Check(ctx, p.deps.Verifier, f.spec.Type, rec, f.logger); err != nil {
		p.terminal(request, err)
		return nil, p.fail(ctx, f, err)
	}

	p.advance(ctx, f, attestation.StageDecoded)
	payload, err := p.decoder.Decode(f.spec, rec)
	if err != nil {
		p.terminal(request, err)
		return nil, p.fail(ctx, f, err)
	}
	p.complete(ctx, f)
	p.record(request, func(e *ledger.Entry) {
		e.Status = ledger.StatusResolved
		e.ProofRound = outcome.RoundID
		e.Response = rec.Response
		e.LastError = ""
	})

	f.logger.Info("attestation decoded", zap.Uint64("round", outcome.RoundID), zap.Int("attempts", len(outcome.Attempts)))
	return &Result{
		FlowID:     f.id,
		Request:    request,
		Submission: sub,
		RoundID:    outcome.RoundID,
		Attempts:   outcome.Attempts,
		Payload:    payload,
	}, nil
}

func (p *Pipeline) retrieve(ctx context.Context, f *flow, policy rounds.Policy, fetcher retriever.Fetcher) (*retriever.Outcome, error) {
	latest, err := p.deps.DA.LatestRound(ctx)
	if err != nil {
		return nil, &attestation.ProofUnavailableError{LastErr: err}
	}
	current, finalized, ok := attestation.ObserveLatest(latest)
	f.logger.Debug("observed voting rounds",
		zap.Uint64("current", current.ID),
		zap.Uint64("last_finalized", finalized.ID),
		zap.Bool("any_finalized", ok))

	typ := string(f.spec.Type)
	r := retriever.New(policy,
		retriever.WithBackOff(p.newBackOff),
		retriever.WithLogger(f.logger),
		retriever.WithObserver(func(a retriever.Attempt) {
			p.metrics.RecordSearchAttempt(ctx, typ, a.Status.String(), a.Duration)
		}))

	outcome, err := r.Retrieve(ctx, fetcher, latest)
	if err != nil {
		var unavailable *attestation.ProofUnavailableError
		if errors.As(err, &unavailable) {
			p.metrics.RecordSearchComplete(ctx, typ, len(unavailable.Rounds), false)
		}
		return nil, err
	}
	p.metrics.RecordSearchComplete(ctx, typ, len(outcome.Attempts), true)
	return outcome, nil
}

// terminal closes a request that can never resolve.
func (p *Pipeline) terminal(request attestation.EncodedRequest, err error) {
	p.record(request, func(e *ledger.Entry) {
		e.Status = ledger.StatusFailed
		e.LastError = err.Error()
	})
}

func (p *Pipeline) record(request attestation.EncodedRequest, fn func(*ledger.Entry)) {
	if p.deps.Ledger == nil {
		return
	}
	_, err := p.deps.Ledger.Update(request.Key(), func(e *ledger.Entry) error {
		fn(e)
		return nil
	})
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		p.logger.Warn("failed to update ledger", zap.String("request_key", request.Key().Hex()), zap.Error(err))
	}
}

func submissionOf(e *ledger.Entry) *hub.Submission {
	return &hub.Submission{
		TxHash:      e.TxHash,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
		RoundID:     e.RoundID,
		Fee:         e.Fee,
	}
}

func feeOrZero(fee *big.Int) *big.Int {
	if fee == nil {
		return new(big.Int)
	}
	return fee
}
