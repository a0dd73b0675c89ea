// Package prover is the proof-verification boundary: an opaque external
// service that, given a block's public inputs and attached proof, answers
// valid or invalid.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/x/chain"
)

// HTTPClient implements chain.Prover over the verifier's REST API.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger
}

var _ chain.Prover = (*HTTPClient)(nil)

// NewHTTPClient constructs a verifier client for the given base URL.
func NewHTTPClient(rawURL string, httpClient *http.Client, log zerolog.Logger) (*HTTPClient, error) {
	if rawURL == "" {
		return nil, errors.New("prover: base URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("prover: invalid base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &HTTPClient{
		baseURL:    parsed,
		httpClient: httpClient,
		log:        log.With().Str("component", "prover-client").Logger(),
	}, nil
}

type verifyRequest struct {
	PublicInputs [][]byte `json:"publicInputs"`
	Proof        []byte   `json:"proof"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// VerifyProof submits the proof for verification. The call is synchronous
// from the caller's perspective.
func (c *HTTPClient) VerifyProof(ctx context.Context, publicInputs [][]byte, proof []byte) (bool, error) {
	endpoint := c.baseURL.JoinPath("verify").String()

	body, err := json.Marshal(verifyRequest{PublicInputs: publicInputs, Proof: proof})
	if err != nil {
		return false, fmt.Errorf("prover: marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("prover: prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("prover: verify request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return false, fmt.Errorf("prover: verifier returned %s: %s", res.Status, string(msg))
	}

	var out verifyResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("prover: decode verifier response: %w", err)
	}
	if out.Error != "" {
		return false, fmt.Errorf("prover: verifier error: %s", out.Error)
	}

	c.log.Debug().Bool("valid", out.Valid).Int("proof_bytes", len(proof)).Msg("proof verified")
	return out.Valid, nil
}
