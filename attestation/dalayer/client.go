// Package dalayer is a client for the Data Availability layer that publishes
// finalized voting round results and their Merkle proofs.
package dalayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
)

// ErrNotReady marks a round whose data is not published yet. Callers move on
// to another round instead of failing.
var ErrNotReady = errors.New("round data not yet available")

const (
	latestRoundPath    = "/api/v0/fsp/latest-voting-round"
	proofByRequestPath = "/api/v0/fdc/proof-by-request-round"
	feedsWithProofPath = "/api/v0/ftso/anchor-feeds-with-proof"

	apiKeyHeader = "X-API-KEY"

	// Circuit breaker settings for the DA endpoint. Not-ready answers count
	// as successes and never trip the breaker.
	DefaultBreakerMaxRequests  = 3
	DefaultBreakerInterval     = 30 * time.Second
	DefaultBreakerTimeout      = 60 * time.Second
	DefaultBreakerFailureRatio = 0.6
)

type latestRoundResponse struct {
	VotingRoundID uint64 `json:"voting_round_id"`
}

type proofRequest struct {
	AbiEncodedRequest string `json:"abiEncodedRequest"`
	RoundID           uint64 `json:"roundId"`
}

type proofResponse struct {
	Proof       []string `json:"proof"`
	ResponseHex string   `json:"response_hex"`
}

type feedsRequest struct {
	FeedIDs []string `json:"feed_ids"`
}

// FeedBody is a published feed value as returned by the DA layer.
type FeedBody struct {
	VotingRoundID uint32 `json:"votingRoundId"`
	ID            string `json:"id"`
	Value         int32  `json:"value"`
	TurnoutBIPS   uint16 `json:"turnoutBIPS"`
	Decimals      int8   `json:"decimals"`
}

// FeedProof pairs a feed value with its Merkle path.
type FeedProof struct {
	Body  FeedBody `json:"body"`
	Proof []string `json:"proof"`
}

// Path decodes the hex proof nodes.
func (f FeedProof) Path() ([][32]byte, error) {
	return decodePath(f.Proof)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	onState func(name string, from, to gobreaker.State)
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l.Named("dalayer") }
}

// WithStateObserver is called after every circuit breaker transition.
func WithStateObserver(fn func(name string, from, to gobreaker.State)) Option {
	return func(c *Client) { c.onState = fn }
}

func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dalayer",
		MaxRequests: DefaultBreakerMaxRequests,
		Interval:    DefaultBreakerInterval,
		Timeout:     DefaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= DefaultBreakerMaxRequests && failureRatio >= DefaultBreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotReady)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if c.onState != nil {
				c.onState(name, from, to)
			}
		},
	})
	return c
}

// LatestRound returns the latest voting round the DA layer reports. That round
// may still be in its dispute window.
func (c *Client) LatestRound(ctx context.Context) (uint64, error) {
	var out latestRoundResponse
	if err := c.do(ctx, http.MethodGet, latestRoundPath, nil, &out); err != nil {
		return 0, fmt.Errorf("latest voting round: %w", err)
	}
	return out.VotingRoundID, nil
}

// ProofByRequestRound fetches the proof for request in round. It returns
// ErrNotReady when the round has no data for the request yet.
func (c *Client) ProofByRequestRound(ctx context.Context, request attestation.EncodedRequest, round uint64) (*attestation.ProofRecord, error) {
	var out proofResponse
	err := c.do(ctx, http.MethodPost, proofByRequestPath, proofRequest{
		AbiEncodedRequest: request.Hex(),
		RoundID:           round,
	}, &out)
	if err != nil {
		return nil, err
	}
	if strings.TrimPrefix(out.ResponseHex, "0x") == "" {
		return nil, ErrNotReady
	}

	response, err := hexutil.Decode(ensure0x(out.ResponseHex))
	if err != nil {
		return nil, fmt.Errorf("decode response_hex: %w", err)
	}
	path, err := decodePath(out.Proof)
	if err != nil {
		return nil, err
	}
	return &attestation.ProofRecord{RoundID: round, MerklePath: path, Response: response}, nil
}

// FeedProofs fetches feed values with proofs for an explicit round. An empty
// answer means the round's feed set is not sealed yet.
func (c *Client) FeedProofs(ctx context.Context, feeds []attestation.FeedID, round uint64) ([]FeedProof, error) {
	ids := make([]string, len(feeds))
	for i, f := range feeds {
		ids[i] = f.Hex()
	}

	var out []FeedProof
	path := feedsWithProofPath + "?voting_round_id=" + strconv.FormatUint(round, 10)
	if err := c.do(ctx, http.MethodPost, path, feedsRequest{FeedIDs: ids}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotReady
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
	case isNotReadyStatus(resp.StatusCode):
		return fmt.Errorf("%w: status %d: %s", ErrNotReady, resp.StatusCode, strings.TrimSpace(string(raw)))
	default:
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ErrNotReady
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// The DA layer answers 400 or 404 for rounds it has not finalized yet; 425
// (Too Early) is accepted as well.
func isNotReadyStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusTooEarly:
		return true
	}
	return false
}

func decodePath(nodes []string) ([][32]byte, error) {
	path := make([][32]byte, 0, len(nodes))
	for i, n := range nodes {
		raw, err := hexutil.Decode(ensure0x(n))
		if err != nil {
			return nil, fmt.Errorf("decode proof node %d: %w", i, err)
		}
		if len(raw) != common.HashLength {
			return nil, fmt.Errorf("proof node %d has %d bytes, want %d", i, len(raw), common.HashLength)
		}
		path = append(path, common.BytesToHash(raw))
	}
	return path, nil
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
