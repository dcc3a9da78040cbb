package tradeskill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Verdicts returned by the trade-execution skill for a sell request.
const (
	VerdictExecuted        = "executed"
	VerdictPendingApproval = "pending_approval"
	VerdictDenied          = "denied"
)

// Client wraps the external trade-execution skill, which also serves as the
// holdings source. The policy behind its verdicts is opaque to this service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradeskill API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, baseURL, apiKey string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type PlaceBetRequest struct {
	TokenID string          `json:"tokenId"`
	Side    string          `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
	Price   *float64        `json:"price,omitempty"`
}

type PlaceBetResult struct {
	Status  string  `json:"status"`
	OrderID *string `json:"orderId,omitempty"`
	Reason  *string `json:"reason,omitempty"`
}

type Holding struct {
	TokenID       string          `json:"tokenId"`
	Shares        decimal.Decimal `json:"shares"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	Redeemable    bool            `json:"redeemable"`
}

type HoldingsResult struct {
	WalletAddress string    `json:"walletAddress"`
	Holdings      []Holding `json:"holdings"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("tradeskill client is nil")
	}
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// PlaceBet submits a sell request and returns the skill's verdict verbatim.
// An unrecognized status is an error here so callers only ever branch on the
// three known verdicts.
func (c *Client) PlaceBet(ctx context.Context, req PlaceBetRequest) (*PlaceBetResult, error) {
	if req.TokenID == "" {
		return nil, fmt.Errorf("tokenId is required")
	}
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/bets", nil, req)
	if err != nil {
		return nil, err
	}
	var out PlaceBetResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode place-bet response: %w", err)
	}
	switch out.Status {
	case VerdictExecuted, VerdictPendingApproval, VerdictDenied:
		return &out, nil
	default:
		return nil, fmt.Errorf("unknown place-bet status %q", out.Status)
	}
}

func (c *Client) GetHoldings(ctx context.Context, ownerRef string) (*HoldingsResult, error) {
	if ownerRef == "" {
		return nil, fmt.Errorf("ownerRef is required")
	}
	query := url.Values{}
	query.Set("owner", ownerRef)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/holdings", query, nil)
	if err != nil {
		return nil, err
	}
	var out HoldingsResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode holdings response: %w", err)
	}
	return &out, nil
}
