package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/dalayer"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/attestation/rounds"
)

// scriptedFetcher answers from a per-round script and records every call.
type scriptedFetcher struct {
	found  map[uint64]bool
	failed map[uint64]error
	calls  []uint64
}

func (s *scriptedFetcher) Fetch(_ context.Context, round uint64) ([]*attestation.ProofRecord, error) {
	s.calls = append(s.calls, round)
	if err, ok := s.failed[round]; ok {
		return nil, err
	}
	if s.found[round] {
		return []*attestation.ProofRecord{{RoundID: round, Response: []byte{1}}}, nil
	}
	return nil, dalayer.ErrNotReady
}

func TestRetrieveStopsAtFirstFound(t *testing.T) {
	f := &scriptedFetcher{found: map[uint64]bool{97: true, 96: true}}
	var observed []Attempt

	out, err := New(rounds.NewPolicy(5), WithObserver(func(a Attempt) { observed = append(observed, a) })).
		Retrieve(context.Background(), f, 100)
	require.NoError(t, err)

	require.Equal(t, []uint64{99, 98, 97}, f.calls)
	require.Equal(t, uint64(97), out.RoundID)
	require.Equal(t, uint64(97), out.Proof().RoundID)
	require.Len(t, out.Attempts, 3)
	require.Equal(t, []Status{NotReady, NotReady, Found}, []Status{
		out.Attempts[0].Status, out.Attempts[1].Status, out.Attempts[2].Status,
	})
	require.Len(t, observed, 3)
}

func TestRetrieveExhausts(t *testing.T) {
	boom := errors.New("connection reset")
	f := &scriptedFetcher{failed: map[uint64]error{97: boom}}

	out, err := New(rounds.NewPolicy(5)).Retrieve(context.Background(), f, 100)
	require.Nil(t, out)
	require.ErrorIs(t, err, attestation.ErrProofUnavailable)
	require.True(t, attestation.IsRetryable(err))

	var unavailable *attestation.ProofUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, []uint64{99, 98, 97, 96, 95}, unavailable.Rounds)
	require.ErrorIs(t, unavailable.LastErr, boom)

	// exactly maxAttempts queries, each round once
	require.Equal(t, []uint64{99, 98, 97, 96, 95}, f.calls)
}

func TestRetrieveNoCandidates(t *testing.T) {
	f := &scriptedFetcher{}
	_, err := New(rounds.NewPolicy(5)).Retrieve(context.Background(), f, 0)
	require.ErrorIs(t, err, attestation.ErrProofUnavailable)
	require.Empty(t, f.calls)
}

func TestRetrieveRoundPassed(t *testing.T) {
	f := &scriptedFetcher{found: map[uint64]bool{45: true}}
	_, err := New(rounds.NewPolicy(5).WithFloor(45)).Retrieve(context.Background(), f, 60)
	require.ErrorIs(t, err, attestation.ErrRoundPassed)
	require.False(t, attestation.IsRetryable(err))
	require.Empty(t, f.calls)

	out, err := New(rounds.NewPolicy(5).WithFloor(45)).Retrieve(context.Background(), f, 50)
	require.NoError(t, err)
	require.Equal(t, uint64(45), out.RoundID)
}

func TestRetrieveEmptyResultIsNotReady(t *testing.T) {
	f := FetcherFunc(func(context.Context, uint64) ([]*attestation.ProofRecord, error) { return nil, nil })
	var statuses []Status
	_, err := New(rounds.NewPolicy(2), WithObserver(func(a Attempt) { statuses = append(statuses, a.Status) })).
		Retrieve(context.Background(), f, 10)
	require.ErrorIs(t, err, attestation.ErrProofUnavailable)
	require.Equal(t, []Status{NotReady, NotReady}, statuses)
}

func TestRetrieveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f := FetcherFunc(func(context.Context, uint64) ([]*attestation.ProofRecord, error) {
		calls++
		cancel()
		return nil, dalayer.ErrNotReady
	})

	_, err := New(rounds.NewPolicy(5)).Retrieve(ctx, f, 100)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetrieveBackOffStop(t *testing.T) {
	f := &scriptedFetcher{}
	_, err := New(rounds.NewPolicy(5), WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
	})).Retrieve(context.Background(), f, 100)
	require.ErrorIs(t, err, attestation.ErrProofUnavailable)
	require.Equal(t, []uint64{99, 98}, f.calls)
}

func TestBackOffConfig(t *testing.T) {
	require.NoError(t, BackOffConfig{}.Validate())
	require.NoError(t, BackOffConfig{Kind: BackOffConstant, Interval: time.Second}.Validate())
	require.Error(t, BackOffConfig{Kind: BackOffConstant}.Validate())
	require.Error(t, BackOffConfig{Kind: BackOffExponential, Interval: time.Second, MaxInterval: time.Millisecond}.Validate())
	require.Error(t, BackOffConfig{Kind: "linear"}.Validate())

	require.Equal(t, time.Duration(0), BackOffConfig{}.Factory()().NextBackOff())
	require.Equal(t, time.Second, BackOffConfig{Kind: BackOffConstant, Interval: time.Second}.Factory()().NextBackOff())

	exp := BackOffConfig{Kind: BackOffExponential, Interval: 100 * time.Millisecond, MaxInterval: time.Second}.Factory()()
	for i := 0; i < 20; i++ {
		next := exp.NextBackOff()
		require.NotEqual(t, backoff.Stop, next)
		require.LessOrEqual(t, next, 1500*time.Millisecond)
	}
}

type fakeFeedSource struct {
	byRound map[uint64][]dalayer.FeedProof
}

func (s fakeFeedSource) FeedProofs(_ context.Context, _ []attestation.FeedID, round uint64) ([]dalayer.FeedProof, error) {
	if proofs, ok := s.byRound[round]; ok {
		return proofs, nil
	}
	return nil, dalayer.ErrNotReady
}

func TestFeedFetcher(t *testing.T) {
	flr, err := attestation.FeedIDFromName("FLR/USD")
	require.NoError(t, err)
	btc, err := attestation.FeedIDFromName("BTC/USD")
	require.NoError(t, err)

	node := "0x" + "22222222222222222222222222222222" + "22222222222222222222222222222222"
	src := fakeFeedSource{byRound: map[uint64][]dalayer.FeedProof{
		48: {{Body: dalayer.FeedBody{VotingRoundID: 48, ID: flr.Hex(), Value: 1}, Proof: []string{node}}},
		47: {
			{Body: dalayer.FeedBody{VotingRoundID: 47, ID: btc.Hex(), Value: 6_512_300, Decimals: 2}, Proof: []string{node}},
			{Body: dalayer.FeedBody{VotingRoundID: 47, ID: flr.Hex(), Value: 25_341, Decimals: 5}, Proof: []string{node}},
		},
	}}

	f := FeedFetcher{Source: src, Feeds: []attestation.FeedID{flr, btc}}

	_, err = f.Fetch(context.Background(), 48)
	require.ErrorIs(t, err, dalayer.ErrNotReady, "partial round counts as not ready")

	recs, err := f.Fetch(context.Background(), 47)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first, err := decoder.DecodeFeedData(recs[0].Response)
	require.NoError(t, err)
	require.Equal(t, flr, first.FeedID())
	require.Equal(t, int32(25_341), first.Value)

	second, err := decoder.DecodeFeedData(recs[1].Response)
	require.NoError(t, err)
	require.Equal(t, btc, second.FeedID())
	require.False(t, recs[1].Verified)
}

func TestFeedFetcherRejectsWrongRound(t *testing.T) {
	flr, err := attestation.FeedIDFromName("FLR/USD")
	require.NoError(t, err)
	src := fakeFeedSource{byRound: map[uint64][]dalayer.FeedProof{
		47: {{Body: dalayer.FeedBody{VotingRoundID: 46, ID: flr.Hex()}}},
	}}
	_, err = FeedFetcher{Source: src, Feeds: []attestation.FeedID{flr}}.Fetch(context.Background(), 47)
	require.Error(t, err)
	require.NotErrorIs(t, err, dalayer.ErrNotReady)
}
