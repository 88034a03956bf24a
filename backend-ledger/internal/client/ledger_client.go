package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/dto"
	"github.com/prohmpiriya/ticket-ledger/pkg/response"
)

// APIError is a non-success envelope returned by the ledger server
type APIError struct {
	Status int
	Info   *response.ErrorInfo
}

func (e *APIError) Error() string {
	if e.Info == nil {
		return fmt.Sprintf("ledger server returned status %d", e.Status)
	}
	if e.Info.Ledger != nil {
		return fmt.Sprintf("%s (%d %s): %s", e.Info.Code, e.Info.Ledger.Number, e.Info.Ledger.Name, e.Info.Message)
	}
	return fmt.Sprintf("%s: %s", e.Info.Code, e.Info.Message)
}

// LedgerClient talks to a ledger server over its HTTP API
type LedgerClient interface {
	Submit(ctx context.Context, req *dto.SubmitTransactionRequest) (*dto.ReceiptResponse, error)
	Airdrop(ctx context.Context, req *dto.AirdropRequest, authToken string) (*dto.ReceiptResponse, error)
	GetAccount(ctx context.Context, address string) (*dto.AccountResponse, error)
}

// HTTPLedgerClient implements LedgerClient using HTTP
type HTTPLedgerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPLedgerClient creates a new HTTP ledger client
func NewHTTPLedgerClient(baseURL string) *HTTPLedgerClient {
	return &HTTPLedgerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Submit posts a signed transaction
func (c *HTTPLedgerClient) Submit(ctx context.Context, req *dto.SubmitTransactionRequest) (*dto.ReceiptResponse, error) {
	var receipt dto.ReceiptResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", req, "", &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Airdrop funds an account; authToken must carry the operator role
func (c *HTTPLedgerClient) Airdrop(ctx context.Context, req *dto.AirdropRequest, authToken string) (*dto.ReceiptResponse, error) {
	var receipt dto.ReceiptResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/airdrop", req, authToken, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetAccount fetches an account with its decoded record
func (c *HTTPLedgerClient) GetAccount(ctx context.Context, address string) (*dto.AccountResponse, error) {
	var acc dto.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(address), nil, "", &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *HTTPLedgerClient) do(ctx context.Context, method, path string, body interface{}, authToken string, out interface{}) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach ledger server: %w", err)
	}
	defer resp.Body.Close()

	apiResponse := struct {
		Success bool                `json:"success"`
		Data    interface{}         `json:"data"`
		Error   *response.ErrorInfo `json:"error,omitempty"`
	}{Data: out}

	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !apiResponse.Success {
		return &APIError{Status: resp.StatusCode, Info: apiResponse.Error}
	}
	return nil
}
