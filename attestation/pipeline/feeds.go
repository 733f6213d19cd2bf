package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/attestation/retriever"
	"github.com/trufnetwork/fdc-relay/attestation/verifier"
)

// FeedResult holds verified feed values from one round, in the order the
// feeds were requested.
type FeedResult struct {
	FlowID   uuid.UUID
	RoundID  uint64
	Feeds    []*decoder.FeedPayload
	Attempts []retriever.Attempt
}

// feedSpec stands in for the request of periodic feeds, which are published
// every round without being submitted.
var feedSpec = attestation.Spec{Type: attestation.TypeFeedData, SourceID: "FTSO"}

// RunFeeds fetches, verifies and decodes periodic feed values. Feeds need no
// submission, so the flow starts at Searching.
func (p *Pipeline) RunFeeds(ctx context.Context, feeds []attestation.FeedID) (*FeedResult, error) {
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feeds requested")
	}
	f := p.newFlow(ctx, feedSpec)
	p.advance(ctx, f, attestation.StageSearching)

	outcome, err := p.retrieve(ctx, f, p.policy, retriever.FeedFetcher{Source: p.deps.DA, Feeds: feeds})
	if err != nil {
		return nil, p.fail(ctx, f, err)
	}

	p.advance(ctx, f, attestation.StageVerified)
	for _, rec := range outcome.Proofs {
		if err := verifier.Check(ctx, p.deps.Verifier, attestation.TypeFeedData, rec, f.logger); err != nil {
			return nil, p.fail(ctx, f, err)
		}
	}

	p.advance(ctx, f, attestation.StageDecoded)
	out := make([]*decoder.FeedPayload, 0, len(outcome.Proofs))
	for _, rec := range outcome.Proofs {
		payload, err := p.decoder.Decode(feedSpec, rec)
		if err != nil {
			return nil, p.fail(ctx, f, err)
		}
		out = append(out, payload.(*decoder.FeedPayload))
	}
	p.complete(ctx, f)

	f.logger.Info("feeds decoded", zap.Uint64("round", outcome.RoundID), zap.Int("feeds", len(out)))
	return &FeedResult{FlowID: f.id, RoundID: outcome.RoundID, Feeds: out, Attempts: outcome.Attempts}, nil
}
