package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/attestation/pipeline"
	"github.com/trufnetwork/fdc-relay/consumers"
	"github.com/trufnetwork/fdc-relay/consumers/sportsmarket"
	"github.com/trufnetwork/fdc-relay/consumers/swapevents"
	"github.com/trufnetwork/fdc-relay/internal/ledger"
	"github.com/trufnetwork/fdc-relay/scheduler"
)

// deliveryHandlers are the consumers the relay serves itself. Match results
// settle the markets in the registry; without one the sportsmarket consumer
// has no handler and its payloads wait in the ledger.
func deliveryHandlers(logger *zap.Logger, markets *sportsmarket.Registry, pool common.Address) map[string]scheduler.Handler {
	swaps := swapevents.NewCollector(pool)
	handlers := map[string]scheduler.Handler{
		"swapevents": func(_ context.Context, e *ledger.Entry, res *pipeline.Result) error {
			p, ok := res.Payload.(*decoder.EVMTransactionPayload)
			if !ok {
				return wrongPayload("swapevents", res.Payload)
			}
			found, err := swaps.Collect(p)
			if err != nil {
				return err
			}
			logger.Info("swaps collected",
				zap.String("request_key", e.Key.Hex()),
				zap.Int("swaps", len(found)),
				zap.Int("total", len(swaps.Events())))
			return nil
		},
	}
	if markets == nil {
		return handlers
	}
	handlers["sportsmarket"] = func(_ context.Context, e *ledger.Entry, res *pipeline.Result) error {
		p, ok := res.Payload.(*decoder.Web2JsonPayload)
		if !ok {
			return wrongPayload("sportsmarket", res.Payload)
		}
		m, state, err := markets.Settle(p, e.RoundID)
		if err != nil {
			return err
		}
		logger.Info("market settled",
			zap.String("request_key", e.Key.Hex()),
			zap.String("market", m.ID),
			zap.Uint64("match_id", m.MatchID),
			zap.Stringer("state", state),
			zap.String("winner", m.Winner()))
		return nil
	}
	return handlers
}

func wrongPayload(consumer string, p decoder.Payload) error {
	return consumers.Violate(consumer, "unexpected payload", "%s", fmt.Sprintf("%T", p))
}
