// Package encoder turns an attestation Spec into the ABI encoded request the
// hub accepts, by calling the verifier service's prepareRequest endpoint.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
)

const (
	// StatusValid is the only verifier status accepted as success.
	StatusValid = "VALID"

	apiKeyHeader       = "X-API-KEY"
	maxErrorBodyLength = 512
)

type prepareRequest struct {
	AttestationType string         `json:"attestationType"`
	SourceID        string         `json:"sourceId"`
	RequestBody     map[string]any `json:"requestBody"`
}

type prepareResponse struct {
	Status            string `json:"status"`
	AbiEncodedRequest string `json:"abiEncodedRequest"`
}

// Client calls the verifier service. It performs no retries.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l.Named("encoder") }
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
	return c
}

// Body returns the canonical JSON sent to the verifier for spec. Map keys are
// sorted by encoding/json, so logically identical specs produce identical bytes.
func Body(spec attestation.Spec) ([]byte, error) {
	body := spec.RequestBody
	if body == nil {
		body = map[string]any{}
	}
	return json.Marshal(prepareRequest{
		AttestationType: attestation.Bytes32Hex(spec.Type.Bytes32()),
		SourceID:        attestation.Bytes32Hex(spec.SourceID.Bytes32()),
		RequestBody:     body,
	})
}

// Encode returns the encoded request for spec. Every failure wraps
// attestation.ErrEncoding.
func (c *Client) Encode(ctx context.Context, spec attestation.Spec) (attestation.EncodedRequest, error) {
	payload, err := Body(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request body: %v", attestation.ErrEncoding, err)
	}

	url := fmt.Sprintf("%s/%s/prepareRequest", c.baseURL, spec.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", attestation.ErrEncoding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: verifier unreachable: %v", attestation.ErrEncoding, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read verifier response: %v", attestation.ErrEncoding, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: verifier returned %d: %s", attestation.ErrEncoding, resp.StatusCode, truncate(raw))
	}

	var out prepareResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode verifier response: %v", attestation.ErrEncoding, err)
	}
	if out.Status != StatusValid {
		return nil, fmt.Errorf("%w: verifier status %q", attestation.ErrEncoding, out.Status)
	}
	encoded, err := attestation.ParseEncodedRequest(out.AbiEncodedRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attestation.ErrEncoding, err)
	}

	c.logger.Debug("request encoded",
		zap.String("type", string(spec.Type)),
		zap.String("source", string(spec.SourceID)),
		zap.Int("bytes", len(encoded)))
	return encoded, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBodyLength {
		return s[:maxErrorBodyLength] + "..."
	}
	return s
}
