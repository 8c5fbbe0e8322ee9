package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrAttestationPending means the oracle has not attested the burn yet.
	ErrAttestationPending = errors.New("attestation not ready")

	// ErrRateLimited means the oracle returned 429.
	ErrRateLimited = errors.New("attestation service rate limited")

	// ErrOracleUnavailable means the oracle returned a 5xx. Transient;
	// callers keep polling.
	ErrOracleUnavailable = errors.New("attestation service unavailable")
)

// Attestation is a signed message ready for receiveMessage on the
// destination chain.
type Attestation struct {
	Message     []byte
	Attestation []byte
}

// BurnFee is one fee tier quoted by the oracle for a source/destination pair.
type BurnFee struct {
	FinalityThreshold uint32 `json:"finalityThreshold"`
	MinimumFeeBps     int64  `json:"minimumFee"`
}

// AttestationClient talks to Circle's Iris attestation service.
type AttestationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAttestationClient(baseURL string, logger *zap.Logger) *AttestationClient {
	return &AttestationClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type attestationMessage struct {
	Message     string `json:"message"`
	Attestation string `json:"attestation"`
	Status      string `json:"status"`
}

type attestationResponse struct {
	Messages []attestationMessage `json:"messages"`
}

// Fetch looks up the attestation for a burn transaction on the given source
// domain. Returns ErrAttestationPending until the oracle has signed, and
// ErrRateLimited on 429 so callers can stretch their backoff.
func (c *AttestationClient) Fetch(ctx context.Context, sourceDomain uint32, txHash string) (*Attestation, error) {
	url := fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s", c.baseURL, sourceDomain, txHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build attestation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attestation request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrAttestationPending
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %d: %s", ErrOracleUnavailable, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("attestation service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode attestation response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return nil, ErrAttestationPending
	}

	msg := parsed.Messages[0]
	if msg.Status != "complete" || msg.Attestation == "" || strings.EqualFold(msg.Attestation, "PENDING") {
		return nil, ErrAttestationPending
	}

	message, err := decodeHex(msg.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message bytes: %w", err)
	}
	attestation, err := decodeHex(msg.Attestation)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attestation bytes: %w", err)
	}

	c.logger.Info("Fetched attestation",
		zap.Uint32("source_domain", sourceDomain),
		zap.String("tx_hash", txHash))
	return &Attestation{Message: message, Attestation: attestation}, nil
}

type feesResponse []BurnFee

// FetchFees quotes the oracle's burn fee tiers for a source/destination
// domain pair. The fast-transfer tier carries a nonzero minimum fee in bps.
func (c *AttestationClient) FetchFees(ctx context.Context, sourceDomain, destDomain uint32) ([]BurnFee, error) {
	url := fmt.Sprintf("%s/v2/burn/usdc/fees/%d/%d", c.baseURL, sourceDomain, destDomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fee request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fee request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fee service returned %d: %s", resp.StatusCode, string(body))
	}

	var fees feesResponse
	if err := json.NewDecoder(resp.Body).Decode(&fees); err != nil {
		return nil, fmt.Errorf("failed to decode fee response: %w", err)
	}
	return fees, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
