package app

import (
	"fmt"
	"io"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	markdown "github.com/fbiville/markdown-table-formatter/pkg/markdown"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/attestation/pipeline"
	"github.com/trufnetwork/fdc-relay/internal/ledger"
)

type resultView struct {
	FlowID      string         `yaml:"flow_id"`
	RequestKey  string         `yaml:"request_key,omitempty"`
	TxHash      string         `yaml:"tx_hash,omitempty"`
	Assigned    uint64         `yaml:"assigned_round,omitempty"`
	ProvenRound uint64         `yaml:"proven_round"`
	Attempts    int            `yaml:"attempts"`
	Type        string         `yaml:"type"`
	Payload     map[string]any `yaml:"payload"`
}

func payloadView(p decoder.Payload) map[string]any {
	switch p := p.(type) {
	case *decoder.FeedPayload:
		return map[string]any{
			"feed":     p.FeedID().Name(),
			"value":    p.Decimal().String(),
			"turnout":  p.TurnoutBIPS,
			"decimals": p.Decimals,
		}
	case *decoder.EVMTransactionPayload:
		return map[string]any{
			"transaction": common.Hash(p.RequestBody.TransactionHash).Hex(),
			"block":       p.ResponseBody.BlockNumber,
			"from":        p.ResponseBody.SourceAddress.Hex(),
			"to":          p.ResponseBody.ReceivingAddress.Hex(),
			"succeeded":   p.Succeeded(),
			"events":      len(p.ResponseBody.Events),
		}
	case *decoder.Web2JsonPayload:
		return lo.MapValues(p.Fields, func(v any, _ string) any { return fmt.Sprint(v) })
	}
	return nil
}

func printResult(w io.Writer, res *pipeline.Result) error {
	view := resultView{
		FlowID:      res.FlowID.String(),
		ProvenRound: res.RoundID,
		Attempts:    len(res.Attempts),
		Payload:     payloadView(res.Payload),
	}
	if res.Payload != nil {
		view.Type = string(res.Payload.AttestationType())
	}
	if len(res.Request) > 0 {
		view.RequestKey = res.Request.Key().Hex()
	}
	if res.Submission != nil {
		view.TxHash = res.Submission.TxHash.Hex()
		view.Assigned = res.Submission.RoundID
	}
	out, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func feedsTable(feeds []*decoder.FeedPayload) (string, error) {
	rows := lo.Map(feeds, func(f *decoder.FeedPayload, _ int) []string {
		return []string{
			f.FeedID().Name(),
			strconv.FormatUint(f.Round(), 10),
			f.Decimal().String(),
			strconv.Itoa(int(f.Decimals)),
			strconv.Itoa(int(f.TurnoutBIPS)),
		}
	})
	return markdown.NewTableFormatterBuilder().
		WithPrettyPrint().
		Build("Feed", "Round", "Value", "Decimals", "Turnout (bips)").
		Format(rows)
}

func ledgerTable(entries []*ledger.Entry) (string, error) {
	rows := lo.Map(entries, func(e *ledger.Entry, _ int) []string {
		return []string{
			e.Key.Hex(),
			string(e.Spec.Type),
			e.Consumer,
			strconv.FormatUint(e.RoundID, 10),
			string(e.Status),
			strconv.Itoa(e.Searches),
			e.LastError,
		}
	})
	return markdown.NewTableFormatterBuilder().
		WithPrettyPrint().
		Build("Request", "Type", "Consumer", "Round", "Status", "Searches", "Last error").
		Format(rows)
}

// parseRequestKey accepts a 32 byte request key or a full encoded request.
func parseRequestKey(s string) (common.Hash, error) {
	raw, err := attestation.ParseEncodedRequest(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(raw) == common.HashLength {
		return common.BytesToHash(raw), nil
	}
	return raw.Key(), nil
}
