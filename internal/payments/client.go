package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	sandboxBaseURL    = "https://sandbox-api.paddle.com"
	productionBaseURL = "https://api.paddle.com"

	maxErrorBodyBytes = 2048
)

var (
	ErrMissingAPIKey       = errors.New("payments: processor api key required")
	ErrTransactionNotFound = errors.New("payments: transaction not found")
)

// UpstreamError carries the processor's failure detail so the HTTP layer can
// forward it for diagnostics.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("payments: processor returned status %d: %s", e.StatusCode, e.Detail)
}

// Price is the priced-item metadata the ledger records.
type Price struct {
	UnitAmount   int64  `json:"unit_amount"`
	CurrencyCode string `json:"currency_code"`
}

// TransactionItem is one line item on a processor transaction.
type TransactionItem struct {
	PriceID string `json:"priceId"`
	Price   Price  `json:"price"`
}

// Transaction is the subset of the processor's transaction resource the
// entitlement flow reads.
type Transaction struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Items  []TransactionItem `json:"items"`
}

type transactionEnvelope struct {
	Data Transaction `json:"data"`
}

// ClientConfig configures the payment-processor client.
type ClientConfig struct {
	APIKey      string
	Environment string
	// BaseURL overrides the environment-derived endpoint, used by tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Client fetches transactions from the payment processor.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a processor client. A missing API key is a
// configuration error.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		if strings.EqualFold(cfg.Environment, EnvironmentProduction) {
			baseURL = productionBaseURL
		} else {
			baseURL = sandboxBaseURL
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient}, nil
}

// GetTransaction fetches a transaction by its processor id.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		return Transaction{}, ErrTransactionNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transactions/"+trimmed, nil)
	if err != nil {
		return Transaction{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	response, err := c.httpClient.Do(req)
	if err != nil {
		return Transaction{}, &UpstreamError{StatusCode: http.StatusBadGateway, Detail: err.Error()}
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return Transaction{}, ErrTransactionNotFound
	}
	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return Transaction{}, &UpstreamError{StatusCode: response.StatusCode, Detail: string(body)}
	}

	var envelope transactionEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return Transaction{}, &UpstreamError{StatusCode: response.StatusCode, Detail: "unparsable transaction response"}
	}
	return envelope.Data, nil
}
