package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRequest asks the server to send native lumens from the secret's account.
type PaymentRequest struct {
	Secret      string `json:"secret"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
}

// Receipt describes a transaction the ledger accepted.
type Receipt struct {
	TransactionHash string    `json:"transaction_hash"`
	Source          string    `json:"source"`
	Destination     string    `json:"destination"`
	Amount          string    `json:"amount"`
	OperationKind   string    `json:"operation_kind"`
	Memo            string    `json:"memo"`
	Sequence        int64     `json:"sequence"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// SubmitResult is the server's answer to a payment submission.
// Status is "submitted", or "unknown" when the ledger's verdict was never
// observed; the server then reconciles the hash in the background.
type SubmitResult struct {
	PaymentID       *uuid.UUID `json:"payment_id,omitempty"`
	Status          string     `json:"status"`
	TransactionHash string     `json:"transaction_hash"`
	Receipt         *Receipt   `json:"receipt,omitempty"`
	WorkflowID      string     `json:"workflow_id,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Transaction is the normalized first operation of a ledger transaction.
type Transaction struct {
	TransactionHash      string          `json:"transaction_hash"`
	OperationID          string          `json:"operation_id,omitempty"`
	SenderAddress        string          `json:"sender_address"`
	DestinationAddress   string          `json:"destination_address"`
	Amount               string          `json:"amount"`
	OperationType        string          `json:"operation_type"`
	Memo                 string          `json:"memo"`
	FeePaid              decimal.Decimal `json:"fee_paid"`
	SourceSequence       string          `json:"source_sequence"`
	Successful           bool            `json:"successful"`
	TimestampUnixSeconds float64         `json:"timestamp"`
	RawRecordJSON        json.RawMessage `json:"raw_record,omitempty"`
}

// Balance is an account's native balance. Exists is false for an unfunded account.
type Balance struct {
	Address string          `json:"address"`
	Exists  bool            `json:"exists"`
	Balance decimal.Decimal `json:"balance"`
}

// Payment is a payment attempt recorded by the server.
type Payment struct {
	ID              uuid.UUID `json:"id"`
	Source          string    `json:"source"`
	Destination     string    `json:"destination"`
	Amount          string    `json:"amount"`
	Memo            string    `json:"memo"`
	OperationKind   string    `json:"operation_kind,omitempty"`
	TransactionHash *string   `json:"transaction_hash,omitempty"`
	Sequence        *int64    `json:"sequence,omitempty"`
	Status          string    `json:"status"`
	Error           *string   `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode      int
	Message         string
	Errors          []string // validation reasons
	TransactionCode string
	OperationCodes  []string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("request failed: %s: %s", e.Message, strings.Join(e.Errors, ", "))
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// StatusCode returns the HTTP status of err if it is an APIError, otherwise 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client is the HTTP client for the stellarpay service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new payment service client.
// Submissions can wait on the ledger for over a minute, so the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Submit sends a payment. A result with Status "unknown" is returned without error.
func (c *Client) Submit(ctx context.Context, req PaymentRequest) (*SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", bytes.NewReader(body), &result, http.StatusCreated, http.StatusAccepted); err != nil {
		return nil, err
	}

	c.logger.Debug("payment submitted", "hash", result.TransactionHash, "status", result.Status)
	return &result, nil
}

// Transaction fetches the normalized transaction for hash.
func (c *Client) Transaction(ctx context.Context, hash string) (*Transaction, error) {
	var txn Transaction
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(hash), nil, &txn, http.StatusOK); err != nil {
		return nil, err
	}
	return &txn, nil
}

// Balance fetches the native balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var b Balance
	path := fmt.Sprintf("/api/v1/accounts/%s/balance", url.PathEscape(address))
	if err := c.do(ctx, http.MethodGet, path, nil, &b, http.StatusOK); err != nil {
		return nil, err
	}
	return &b, nil
}

// Payment fetches a recorded payment by id.
func (c *Client) Payment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	if err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+id.String(), nil, &p, http.StatusOK); err != nil {
		return nil, err
	}
	return &p, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, http.StatusOK)
}

// Version returns the server's build version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/version", nil, &v, http.StatusOK); err != nil {
		return "", err
	}
	return v.Version, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any, ok ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	accepted := false
	for _, code := range ok {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error           string   `json:"error"`
		Errors          []string `json:"errors"`
		TransactionCode string   `json:"transaction_code"`
		OperationCodes  []string `json:"operation_codes"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	return &APIError{
		StatusCode:      resp.StatusCode,
		Message:         errResp.Error,
		Errors:          errResp.Errors,
		TransactionCode: errResp.TransactionCode,
		OperationCodes:  errResp.OperationCodes,
	}
}
