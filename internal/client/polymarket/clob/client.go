package clob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client is a read-only REST client for the Polymarket CLOB. The worker uses
// it as the price source when the market stream is disabled or has no fresh
// quote for a token.
type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	if host == "" {
		host = "https://clob.polymarket.com"
	}
	host = strings.TrimRight(host, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetPrice fetches the best price for one side of the book. Side is "buy" or
// "sell"; empty side asks the venue for its default.
func (c *Client) GetPrice(ctx context.Context, tokenID, side string) (Decimal, error) {
	if tokenID == "" {
		return Decimal{}, fmt.Errorf("token_id is required")
	}
	query := url.Values{}
	query.Set("token_id", tokenID)
	if side != "" {
		query.Set("side", side)
	}
	body, err := c.doRequest(ctx, "/price", query)
	if err != nil {
		return Decimal{}, err
	}
	return parsePrice(body)
}

func (c *Client) GetBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("token_id is required")
	}
	query := url.Values{}
	query.Set("token_id", tokenID)
	body, err := c.doRequest(ctx, "/book", query)
	if err != nil {
		return nil, err
	}
	return parseOrderBook(body)
}
