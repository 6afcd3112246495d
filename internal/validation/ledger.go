package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/fairbatch/pkg/merkle"
	"github.com/Aidin1998/fairbatch/pkg/models"
)

// LedgerClient is the read-only view of the external ledger authority.
// The ledger is eventually consistent; callers tolerate and report
// divergence rather than treating it as fatal.
type LedgerClient interface {
	GetBalance(ctx context.Context, identity common.Address) (decimal.Decimal, error)
	GetSnapshot(ctx context.Context) (*models.LedgerSnapshot, error)
	VerifyInclusionProof(ctx context.Context, digest common.Hash, proof *merkle.Proof) (bool, error)
	GetBestBidAsk(ctx context.Context, pair string) (bid, ask decimal.Decimal, err error)
}

// HTTPLedgerConfig holds the authority endpoint settings.
type HTTPLedgerConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultHTTPLedgerConfig targets a local authority with a short timeout
// so a stalled authority degrades checks instead of stalling the core.
func DefaultHTTPLedgerConfig() HTTPLedgerConfig {
	return HTTPLedgerConfig{
		BaseURL: "http://localhost:8645",
		Timeout: 2 * time.Second,
	}
}

// HTTPLedgerClient talks JSON to the external ledger authority.
type HTTPLedgerClient struct {
	base   string
	client *http.Client
}

// NewHTTPLedgerClient creates an authority client.
func NewHTTPLedgerClient(cfg HTTPLedgerConfig) *HTTPLedgerClient {
	return &HTTPLedgerClient{
		base:   cfg.BaseURL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPLedgerClient) GetBalance(ctx context.Context, identity common.Address) (decimal.Decimal, error) {
	var out struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.getJSON(ctx, "/v1/balance/"+identity.Hex(), &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

func (c *HTTPLedgerClient) GetSnapshot(ctx context.Context) (*models.LedgerSnapshot, error) {
	var out models.LedgerSnapshot
	if err := c.getJSON(ctx, "/v1/snapshot/latest", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPLedgerClient) VerifyInclusionProof(ctx context.Context, digest common.Hash, proof *merkle.Proof) (bool, error) {
	body, err := json.Marshal(struct {
		Digest common.Hash   `json:"digest"`
		Proof  *merkle.Proof `json:"proof"`
	}{digest, proof})
	if err != nil {
		return false, fmt.Errorf("marshal proof: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/proof/verify", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("authority returned %s", resp.Status)
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode verification: %w", err)
	}
	return out.Valid, nil
}

func (c *HTTPLedgerClient) GetBestBidAsk(ctx context.Context, pair string) (decimal.Decimal, decimal.Decimal, error) {
	var out struct {
		Bid decimal.Decimal `json:"bid"`
		Ask decimal.Decimal `json:"ask"`
	}
	if err := c.getJSON(ctx, "/v1/quote/"+url.PathEscape(pair), &out); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return out.Bid, out.Ask, nil
}

func (c *HTTPLedgerClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
