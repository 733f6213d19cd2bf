package retriever

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/dalayer"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
)

// ProofSource looks up request proofs. *dalayer.Client implements it.
type ProofSource interface {
	ProofByRequestRound(ctx context.Context, request attestation.EncodedRequest, round uint64) (*attestation.ProofRecord, error)
}

// FeedSource looks up feed values with proofs. *dalayer.Client implements it.
type FeedSource interface {
	FeedProofs(ctx context.Context, feeds []attestation.FeedID, round uint64) ([]dalayer.FeedProof, error)
}

// RequestFetcher fetches the proof of one submitted request.
type RequestFetcher struct {
	Source  ProofSource
	Request attestation.EncodedRequest
}

func (f RequestFetcher) Fetch(ctx context.Context, round uint64) ([]*attestation.ProofRecord, error) {
	rec, err := f.Source.ProofByRequestRound(ctx, f.Request, round)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return []*attestation.ProofRecord{rec}, nil
}

// FeedFetcher fetches periodic feed values. The proofs are returned in the
// order of Feeds; a round that lacks any requested feed is not ready.
type FeedFetcher struct {
	Source FeedSource
	Feeds  []attestation.FeedID
}

func (f FeedFetcher) Fetch(ctx context.Context, round uint64) ([]*attestation.ProofRecord, error) {
	published, err := f.Source.FeedProofs(ctx, f.Feeds, round)
	if err != nil {
		return nil, err
	}

	byID := make(map[attestation.FeedID]dalayer.FeedProof, len(published))
	for _, p := range published {
		id, err := attestation.ParseFeedID(p.Body.ID)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		byID[id] = p
	}

	missing := lo.Filter(f.Feeds, func(id attestation.FeedID, _ int) bool {
		_, ok := byID[id]
		return !ok
	})
	if len(missing) > 0 {
		names := lo.Map(missing, func(id attestation.FeedID, _ int) string { return id.Name() })
		return nil, fmt.Errorf("%w: round %d lacks feeds %v", dalayer.ErrNotReady, round, names)
	}

	out := make([]*attestation.ProofRecord, 0, len(f.Feeds))
	for _, id := range f.Feeds {
		rec, err := feedRecord(byID[id], id, round)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func feedRecord(p dalayer.FeedProof, id attestation.FeedID, round uint64) (*attestation.ProofRecord, error) {
	if uint64(p.Body.VotingRoundID) != round {
		return nil, fmt.Errorf("feed %s published for round %d, asked for %d", id.Name(), p.Body.VotingRoundID, round)
	}
	path, err := p.Path()
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", id.Name(), err)
	}
	leaf, err := decoder.EncodeFeedData(decoder.FeedPayload{
		VotingRoundID: p.Body.VotingRoundID,
		ID:            id,
		Value:         p.Body.Value,
		TurnoutBIPS:   p.Body.TurnoutBIPS,
		Decimals:      p.Body.Decimals,
	})
	if err != nil {
		return nil, err
	}
	return &attestation.ProofRecord{RoundID: round, MerklePath: path, Response: leaf}, nil
}
